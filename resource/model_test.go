package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestModel_Fetch(t *testing.T) {
	reg, backend := setup(t)
	res := reg.MustRegister(Options{Name: "lesson", Path: "/api/lessons/"})
	backend.Echo.GET("/api/lessons/:id/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"id":    c.Param("id"),
			"title": "Fractions",
		})
	})

	t.Run("miss hits the network, hit does not", func(t *testing.T) {
		m := res.GetModel("1")
		assert.False(t, m.Synced())

		attrs, err := m.Fetch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, "Fractions", attrs["title"])
		assert.True(t, m.Synced())
		assert.Equal(t, 1, backend.CallCount(http.MethodGet, "/api/lessons/1/"))

		attrs, err = m.Fetch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, "Fractions", attrs["title"])
		assert.Equal(t, 1, backend.CallCount(http.MethodGet, "/api/lessons/1/"))
	})

	t.Run("force re-fetches", func(t *testing.T) {
		m := res.GetModel("1")
		_, err := m.Fetch(context.Background(), nil, true)
		assert.NoError(t, err)
		assert.Equal(t, 2, backend.CallCount(http.MethodGet, "/api/lessons/1/"))
	})

	t.Run("failure leaves synced unset and propagates", func(t *testing.T) {
		backend.Echo.GET("/api/lessons/bad/", func(c echo.Context) error {
			return c.JSON(http.StatusInternalServerError, map[string]string{"detail": "boom"})
		})
		m := res.GetModel("bad")
		_, err := m.Fetch(context.Background(), nil)
		assert.Error(t, err)
		assert.False(t, m.Synced())
	})

	t.Run("failed forced re-fetch clears synced", func(t *testing.T) {
		fail := false
		backend.Echo.GET("/api/lessons/9/", func(c echo.Context) error {
			if fail {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"detail": "down"})
			}
			return c.JSON(http.StatusOK, map[string]interface{}{"id": "9", "title": "Nine"})
		})
		m := res.GetModel("9")
		_, err := m.Fetch(context.Background(), nil)
		assert.NoError(t, err)
		assert.True(t, m.Synced())

		fail = true
		_, err = m.Fetch(context.Background(), nil, true)
		assert.Error(t, err)
		assert.False(t, m.Synced())

		// the next unforced fetch must not serve the stale cache
		fail = false
		before := backend.CallCount(http.MethodGet, "/api/lessons/9/")
		_, err = m.Fetch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, before+1, backend.CallCount(http.MethodGet, "/api/lessons/9/"))
	})

	t.Run("no in-flight request after settling", func(t *testing.T) {
		m := res.GetModel("1")
		assert.Equal(t, 0, m.InFlight())
		_, _ = m.Fetch(context.Background(), nil, true)
		assert.Equal(t, 0, m.InFlight())
	})
}

func TestModel_Save(t *testing.T) {
	reg, backend := setup(t)
	res := reg.MustRegister(Options{Name: "lesson", Path: "/api/lessons/"})

	backend.Echo.POST("/api/lessons/", func(c echo.Context) error {
		var body map[string]interface{}
		if err := c.Bind(&body); err != nil {
			return err
		}
		body["id"] = 99
		return c.JSON(http.StatusCreated, body)
	})
	backend.Echo.PATCH("/api/lessons/:id/", func(c echo.Context) error {
		// echo v4.1.17 binds the :id path param into the map before decoding
		// the JSON body; a nil map makes that SetMapIndex panic.
		body := map[string]interface{}{}
		if err := c.Bind(&body); err != nil {
			return err
		}
		body["id"] = c.Param("id")
		body["updated"] = true // server-computed field
		return c.JSON(http.StatusOK, body)
	})

	t.Run("no id saves against the collection URL and registers the id", func(t *testing.T) {
		m, err := res.CreateModel(Attributes{"title": "New lesson"})
		assert.NoError(t, err)

		attrs, err := m.Save(context.Background(), Attributes{"title": "New lesson"})
		assert.NoError(t, err)
		assert.Equal(t, "99", attrs["id"])
		assert.Equal(t, 1, backend.CallCount(http.MethodPost, "/api/lessons/"))
		assert.True(t, m.Synced())

		// only now individually addressable by id
		assert.Same(t, m, res.GetModel("99"))
	})

	t.Run("with id patches only the changed attributes", func(t *testing.T) {
		m, err := res.CreateModel(Attributes{"id": "5", "title": "Old", "author": "mj"})
		assert.NoError(t, err)

		attrs, err := m.Save(context.Background(), Attributes{"title": "Updated"})
		assert.NoError(t, err)

		calls := backend.Calls(http.MethodPatch, "/api/lessons/5/")
		assert.Len(t, calls, 1)
		var sent map[string]interface{}
		assert.NoError(t, json.Unmarshal(calls[0].Body, &sent))
		assert.Equal(t, map[string]interface{}{"title": "Updated"}, sent)

		// server response is authoritative for server-computed fields
		assert.Equal(t, "Updated", attrs["title"])
		assert.Equal(t, true, attrs["updated"])
		assert.Equal(t, "mj", attrs["author"])
		assert.True(t, m.Synced())
	})

	t.Run("synced no-op change skips the network", func(t *testing.T) {
		m, err := res.CreateModel(Attributes{"id": "6", "title": "Same"})
		assert.NoError(t, err)
		m.setSynced(true)

		before := backend.CallCount(http.MethodPatch, "/api/lessons/6/")
		attrs, err := m.Save(context.Background(), Attributes{"title": "Same"})
		assert.NoError(t, err)
		assert.Equal(t, "Same", attrs["title"])
		assert.Equal(t, before, backend.CallCount(http.MethodPatch, "/api/lessons/6/"))
	})

	t.Run("failure leaves attributes unmodified", func(t *testing.T) {
		backend.Echo.PATCH("/api/lessons/rejected/", func(c echo.Context) error {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid"})
		})
		m, err := res.CreateModel(Attributes{"id": "rejected", "title": "Before"})
		assert.NoError(t, err)

		_, err = m.Save(context.Background(), Attributes{"title": "After"})
		assert.Error(t, err)
		assert.Equal(t, "Before", m.Attributes()["title"])
		assert.False(t, m.Synced())
	})
}

func TestModel_Delete(t *testing.T) {
	reg, backend := setup(t)
	res := reg.MustRegister(Options{Name: "lesson", Path: "/api/lessons/"})
	backend.Echo.DELETE("/api/lessons/:id/", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("no id rejects without a network call", func(t *testing.T) {
		m, err := res.CreateModel(Attributes{"title": "Draft"})
		assert.NoError(t, err)
		_, err = m.Delete(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 0, backend.CallCount(http.MethodDelete, ""))
	})

	t.Run("success evicts and resolves with the deleted id", func(t *testing.T) {
		m, err := res.CreateModel(Attributes{"id": "3", "title": "Gone"})
		assert.NoError(t, err)

		id, err := m.Delete(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "3", id)
		assert.True(t, m.Deleted())
		assert.Empty(t, m.Attributes())
		// no longer retrievable: a fresh empty model takes its place
		assert.NotSame(t, m, res.GetModel("3"))
	})

	t.Run("failure propagates", func(t *testing.T) {
		backend.Echo.DELETE("/api/lessons/locked/", func(c echo.Context) error {
			return c.JSON(http.StatusForbidden, map[string]string{"detail": "nope"})
		})
		m, err := res.CreateModel(Attributes{"id": "locked"})
		assert.NoError(t, err)
		_, err = m.Delete(context.Background())
		assert.Error(t, err)
		assert.False(t, m.Deleted())
	})
}

func TestModel_Set(t *testing.T) {
	reg, _ := setup(t)
	res := reg.MustRegister(Options{Name: "lesson", Path: "/api/lessons/"})

	m, err := res.CreateModel(Attributes{"id": 12, "title": "T"})
	assert.NoError(t, err)
	assert.Equal(t, "12", m.Attributes()["id"])

	m.Set(Attributes{"title": "T2", "extra": 1})
	attrs := m.Attributes()
	assert.Equal(t, "T2", attrs["title"])
	assert.Equal(t, 1, attrs["extra"])
	assert.Equal(t, "12", attrs["id"])
}
