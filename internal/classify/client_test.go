package classify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitDecodesVerdict(t *testing.T) {
	var gotBody []byte
	var gotSource string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/detect", r.URL.Path)
		gotSource = r.Header.Get("X-Source-Id")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{
			"detected":   true,
			"confidence": 0.82,
			"weaponType": "handgun",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/detect"})
	v := c.Submit(context.Background(), "cam-1", []byte("jpegbytes"))

	assert.True(t, v.WeaponDetected)
	assert.InDelta(t, 0.82, v.Confidence, 1e-9)
	assert.Equal(t, "handgun", v.WeaponType)
	assert.Equal(t, "cam-1", gotSource)
	assert.Equal(t, []byte("jpegbytes"), gotBody)
	assert.True(t, c.Available())
}

func TestSubmitNeutralOnTransportFailure(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1/detect", Timeout: 200 * time.Millisecond})
	v := c.Submit(context.Background(), "cam-1", []byte("x"))

	assert.False(t, v.WeaponDetected)
	assert.Nil(t, v.Plate)
	assert.Empty(t, v.Suspicious)
	assert.False(t, c.Available())
}

func TestSubmitNeutralOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/detect", Timeout: 50 * time.Millisecond})
	v := c.Submit(context.Background(), "cam-1", []byte("x"))
	assert.False(t, v.Qualifies())
}

func TestSubmitNeutralOnBadStatusAndBadJSON(t *testing.T) {
	status := http.StatusInternalServerError
	body := `{"error":"boom"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/detect"})
	assert.False(t, c.Submit(context.Background(), "cam-1", nil).Qualifies())

	status = http.StatusOK
	body = `not json at all`
	assert.False(t, c.Submit(context.Background(), "cam-1", nil).Qualifies())
}

func TestHealthCheckStripsDetectSuffix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "model": "best.pt"})
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/detect"})
	assert.True(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "/health", gotPath)
	assert.True(t, c.Available())
}

func TestHealthCheckFailure(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1/detect", Timeout: 200 * time.Millisecond})
	assert.False(t, c.HealthCheck(context.Background()))
	assert.False(t, c.Available())
}

func TestQualifies(t *testing.T) {
	assert.False(t, (&Verdict{}).Qualifies())
	assert.False(t, (&Verdict{WeaponDetected: true, Confidence: 0.5}).Qualifies())
	assert.True(t, (&Verdict{WeaponDetected: true, Confidence: 0.51}).Qualifies())
	assert.True(t, (&Verdict{Plate: &PlateMatch{Text: "AB123CD"}}).Qualifies())
	assert.True(t, (&Verdict{Suspicious: []SuspiciousActivity{{Label: "loitering"}}}).Qualifies())
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "handgun", (&Verdict{WeaponDetected: true, WeaponType: "handgun"}).Category())
	assert.Equal(t, "weapon", (&Verdict{WeaponDetected: true}).Category())
	assert.Equal(t, "plate", (&Verdict{Plate: &PlateMatch{}}).Category())
	assert.Equal(t, "suspicious", (&Verdict{Suspicious: []SuspiciousActivity{{}}}).Category())
	assert.Equal(t, "unknown", (&Verdict{}).Category())
}
