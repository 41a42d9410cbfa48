package routes

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Route declares a single endpoint. Middlewares run in slice order before the
// handler, and only for this route.
type Route struct {
	Method      string
	Path        string
	Middlewares []fiber.Handler
	Handler     fiber.Handler
}

// Resource groups routes under a shared path prefix with middlewares applied
// to every route in the group, ahead of any per-route middlewares.
type Resource struct {
	Prefix      string
	Middlewares []fiber.Handler
	Routes      []Route
}

var supportedMethods = map[string]struct{}{
	fiber.MethodGet:     {},
	fiber.MethodPost:    {},
	fiber.MethodPut:     {},
	fiber.MethodPatch:   {},
	fiber.MethodDelete:  {},
	fiber.MethodHead:    {},
	fiber.MethodOptions: {},
}

// Register mounts every resource on the app. Declarations are validated up
// front so a misdeclared route fails at startup instead of surfacing as a 404
// in production.
func Register(app *fiber.App, resources ...Resource) error {
	for _, res := range resources {
		group := app.Group(res.Prefix, res.Middlewares...)
		for _, route := range res.Routes {
			if err := validate(res.Prefix, route); err != nil {
				return err
			}
			handlers := make([]fiber.Handler, 0, len(route.Middlewares)+1)
			handlers = append(handlers, route.Middlewares...)
			handlers = append(handlers, route.Handler)
			group.Add(strings.ToUpper(route.Method), route.Path, handlers...)
		}
	}
	return nil
}

func validate(prefix string, route Route) error {
	if route.Method == "" {
		return fmt.Errorf("route %s%s: missing method", prefix, route.Path)
	}
	if _, ok := supportedMethods[strings.ToUpper(route.Method)]; !ok {
		return fmt.Errorf("route %s%s: unsupported method %q", prefix, route.Path, route.Method)
	}
	if route.Path == "" {
		return fmt.Errorf("route %s [%s]: missing path", prefix, route.Method)
	}
	if !strings.HasPrefix(route.Path, "/") {
		return fmt.Errorf("route %s%s: path must start with '/'", prefix, route.Path)
	}
	if route.Handler == nil {
		return fmt.Errorf("route %s%s: missing handler", prefix, route.Path)
	}
	return nil
}
