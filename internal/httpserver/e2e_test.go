package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
)

func TestEndToEndExpiryPolicies(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.TestMode = true })
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	e := httpexpect.Default(t, ts.URL)
	at := func(d time.Duration) string {
		return strconv.FormatInt(t0.Add(d).UnixMilli(), 10)
	}

	e.GET("/api/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("ok", true)

	t.Run("view limited", func(t *testing.T) {
		id := e.POST("/api/pastes").
			WithJSON(map[string]any{"content": "two shots", "max_views": 2}).
			Expect().
			Status(http.StatusCreated).
			JSON().Object().
			ContainsKey("url").
			Value("id").String().Raw()

		for _, left := range []int{1, 0} {
			e.GET("/api/pastes/{id}", id).
				Expect().
				Status(http.StatusOK).
				JSON().Object().HasValue("remaining_views", left)
		}
		e.GET("/api/pastes/{id}", id).
			Expect().
			Status(http.StatusNotFound)
		e.GET("/p/{id}/raw", id).
			Expect().
			Status(http.StatusNotFound)
	})

	t.Run("ttl and views", func(t *testing.T) {
		obj := e.POST("/api/pastes").
			WithHeader(testNowHeader, at(0)).
			WithJSON(map[string]any{"content": "short lived", "ttl_seconds": "30", "max_views": 3}).
			Expect().
			Status(http.StatusCreated).
			JSON().Object()
		id := obj.Value("id").String().Raw()
		obj.Value("url").String().IsEqual(ts.URL + "/p/" + id)

		fetched := e.GET("/api/pastes/{id}", id).
			WithHeader(testNowHeader, at(29*time.Second)).
			Expect().
			Status(http.StatusOK).
			JSON().Object()
		fetched.HasValue("content", "short lived")
		fetched.HasValue("remaining_views", 2)
		fetched.HasValue("expires_at", t0.Add(30*time.Second).Format(time.RFC3339))

		e.GET("/api/pastes/{id}", id).
			WithHeader(testNowHeader, at(30*time.Second)).
			Expect().
			Status(http.StatusNotFound).
			JSON().Object().HasValue("error", notFoundMessage)

		e.GET("/p/{id}", id).
			WithHeader(testNowHeader, at(29*time.Second)).
			Expect().
			Status(http.StatusOK).
			ContentType("text/html").
			Body().Contains("short lived").Contains("Views remaining")
	})

	t.Run("form submission", func(t *testing.T) {
		e.POST("/api/pastes").
			WithFormField("content", "from the form").
			WithFormField("ttl_seconds", "").
			WithFormField("max_views", "1").
			Expect().
			Status(http.StatusCreated).
			ContentType("text/html").
			Body().Contains("Paste created").Contains("data:image/png;base64,")

		e.POST("/api/pastes").
			WithFormField("content", "").
			Expect().
			Status(http.StatusBadRequest).
			ContentType("text/html").
			Body().Contains("invalid content")
	})

	t.Run("rejects bad options", func(t *testing.T) {
		e.POST("/api/pastes").
			WithJSON(map[string]any{"content": "x", "ttl_seconds": "abc"}).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().Value("error").String().Contains("ttl_seconds")

		e.POST("/api/pastes").
			WithJSON(map[string]any{"content": "x", "max_views": -1}).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().Value("error").String().Contains("max_views")
	})
}
