package routes

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tag(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		order := c.Locals("order")
		if order == nil {
			order = []string{}
		}
		c.Locals("order", append(order.([]string), name))
		return c.Next()
	}
}

func TestRegister(t *testing.T) {
	t.Run("MountsRoutes", func(t *testing.T) {
		app := fiber.New()
		err := Register(app, Resource{
			Prefix: "/api/listings",
			Routes: []Route{
				{Method: "GET", Path: "/", Handler: func(c *fiber.Ctx) error {
					return c.SendString("listings")
				}},
				{Method: "POST", Path: "/", Handler: func(c *fiber.Ctx) error {
					return c.SendStatus(fiber.StatusCreated)
				}},
			},
		})
		require.NoError(t, err)

		resp, err := app.Test(httptest.NewRequest("GET", "/api/listings/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "listings", string(body))

		resp, err = app.Test(httptest.NewRequest("POST", "/api/listings/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	})

	t.Run("MiddlewaresRunInDeclarationOrder", func(t *testing.T) {
		app := fiber.New()
		err := Register(app, Resource{
			Prefix:      "/api",
			Middlewares: []fiber.Handler{tag("group")},
			Routes: []Route{
				{
					Method:      "GET",
					Path:        "/ping",
					Middlewares: []fiber.Handler{tag("first"), tag("second")},
					Handler: func(c *fiber.Ctx) error {
						return c.JSON(c.Locals("order"))
					},
				},
			},
		})
		require.NoError(t, err)

		resp, err := app.Test(httptest.NewRequest("GET", "/api/ping", nil))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `["group","first","second"]`, string(body))
	})

	t.Run("LowercaseMethodAccepted", func(t *testing.T) {
		app := fiber.New()
		err := Register(app, Resource{
			Prefix: "/api",
			Routes: []Route{
				{Method: "delete", Path: "/things/:id", Handler: func(c *fiber.Ctx) error {
					return c.SendStatus(fiber.StatusNoContent)
				}},
			},
		})
		require.NoError(t, err)

		resp, err := app.Test(httptest.NewRequest("DELETE", "/api/things/7", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	})

	t.Run("RejectsMissingMethod", func(t *testing.T) {
		err := Register(fiber.New(), Resource{
			Prefix: "/api",
			Routes: []Route{{Path: "/x", Handler: func(c *fiber.Ctx) error { return nil }}},
		})
		assert.ErrorContains(t, err, "missing method")
	})

	t.Run("RejectsUnsupportedMethod", func(t *testing.T) {
		err := Register(fiber.New(), Resource{
			Prefix: "/api",
			Routes: []Route{{Method: "FETCH", Path: "/x", Handler: func(c *fiber.Ctx) error { return nil }}},
		})
		assert.ErrorContains(t, err, "unsupported method")
	})

	t.Run("RejectsMissingPath", func(t *testing.T) {
		err := Register(fiber.New(), Resource{
			Prefix: "/api",
			Routes: []Route{{Method: "GET", Handler: func(c *fiber.Ctx) error { return nil }}},
		})
		assert.ErrorContains(t, err, "missing path")
	})

	t.Run("RejectsMissingHandler", func(t *testing.T) {
		err := Register(fiber.New(), Resource{
			Prefix: "/api",
			Routes: []Route{{Method: "GET", Path: "/x"}},
		})
		assert.ErrorContains(t, err, "missing handler")
	})
}
