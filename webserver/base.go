package webserver

import (
	"context"
	stdJson "encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/earlydata"
	"github.com/iidesho/bragi/sbragi"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	contextkeys "github.com/iidesho/aggregates/contextKeys"
	"github.com/iidesho/aggregates/metrics"
	"github.com/iidesho/aggregates/webserver/health"
)

const (
	TRACE_ID          = "X-Trace-Id"
	CONTENT_TYPE      = "Content-Type"
	CONTENT_TYPE_JSON = "application/json"
	AUTHORIZATION     = "Authorization"
)

var json = jsoniter.Config{
	IndentionStep:                 0,
	MarshalFloatWith6Digits:       true,
	EscapeHTML:                    true,
	SortMapKeys:                   false,
	UseNumber:                     true,
	DisallowUnknownFields:         true,
	OnlyTaggedField:               true,
	ValidateJsonRawMessage:        true,
	ObjectFieldMustBeSimpleString: false,
	CaseSensitive:                 false,
}.Froze()

type Server interface {
	Base() fiber.Router
	API() fiber.Router
	App() *fiber.App
	AddHealthCheck(name string, check health.Check)
	Run()
	Shutdown() error
	Port() uint16
	Url() (u *url.URL)
}

type server struct {
	r    *fiber.App
	base fiber.Router
	api  fiber.Router
	port uint16
	hr   interface {
		AddCheck(name string, c health.Check)
		WriteHealthReport(c *fiber.Ctx) error
	}
}

type Option func(*options)

type options struct {
	debugUser string
	debugPass string
}

// WithDebug serves pprof under {api}/debug behind basic auth.
func WithDebug(user, pass string) Option {
	return func(o *options) {
		o.debugUser = user
		o.debugPass = pass
	}
}

// ErrorHandler writes err as a json body, using the code of a *fiber.Error when there is one.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// Status code defaults to 500
	status := http.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		status = e.Code
	}
	msg := map[string]interface{}{
		"status":      status,
		"status_text": http.StatusText(status),
		"error_msg":   err.Error(),
	}

	c.Set(CONTENT_TYPE, CONTENT_TYPE_JSON)
	err = c.Status(status).JSON(msg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			SendString("Internal Server Error")
	}
	return nil
}

func Init(port uint16, from_base bool, opts ...Option) (Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	h := health.Init()
	s := server{
		r: fiber.New(fiber.Config{
			AppName:               health.Name,
			StreamRequestBody:     true,
			DisableStartupMessage: true,
			JSONDecoder:           json.Unmarshal,
			JSONEncoder:           json.Marshal,
			ErrorHandler:          ErrorHandler,
		}),
		port: port,
		hr:   h,
	}
	s.r.Use(earlydata.New())
	s.r.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	s.r.Use(func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r != nil {
				sbragi.Error("recovered from panic in handler", "path", c.Path(), "panic", r)
				err = errors.Join(
					err,
					fmt.Errorf("recoverd: %v, stack: %s", r, string(debug.Stack())),
					c.SendStatus(http.StatusInternalServerError),
				)
			}
		}()
		return c.Next()
	})
	s.r.Use(cors.New())
	s.r.Use(func(c *fiber.Ctx) error {
		if id := c.Get(TRACE_ID); id != "" {
			c.SetUserContext(context.WithValue(c.UserContext(), contextkeys.TraceID, id))
		}
		return c.Next()
	})
	s.base = s.r.Group("")
	if health.Name == "" || from_base {
		s.api = s.base.Group("/")
	} else {
		s.api = s.base.Group("/" + health.Name)
	}
	s.api.Get("/health", func(c *fiber.Ctx) error {
		return h.WriteHealthReport(c)
	})
	if metrics.Registry != nil {
		s.api.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}
	if o.debugUser != "" && o.debugPass != "" {
		debug := s.api.Group("/debug")
		debug.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{o.debugUser: o.debugPass},
		}))
		debug.Get("/pprof/*", func(c *fiber.Ctx) error {
			switch c.Params("*") {
			case "profile":
				return adaptor.HTTPHandlerFunc(pprof.Profile)(c)
			case "trace":
				return adaptor.HTTPHandlerFunc(pprof.Trace)(c)
			case "symbol":
				return adaptor.HTTPHandlerFunc(pprof.Symbol)(c)
			default:
				return adaptor.HTTPHandlerFunc(pprof.Index)(c)
			}
		})
	}
	return &s, nil
}

func (s *server) Base() fiber.Router {
	return s.base
}

func (s *server) API() fiber.Router {
	return s.api
}

func (s *server) App() *fiber.App {
	return s.r
}

func (s *server) AddHealthCheck(name string, check health.Check) {
	s.hr.AddCheck(name, check)
}

func (s *server) Run() {
	err := s.r.Listen(fmt.Sprintf(":%d", s.Port()))
	if err != nil {
		sbragi.WithError(err).Fatal("while starting or running webserver")
	}
}

func (s *server) Shutdown() error {
	return s.r.Shutdown()
}

func (s *server) Port() uint16 {
	return s.port
}

func (s *server) Url() (u *url.URL) {
	u = &url.URL{}
	u.Scheme = "http"
	u.Host = fmt.Sprintf("%s:%d", health.GetOutboundIP(), s.Port())
	return
}

func UnmarshalBody[bodyT any](c *fiber.Ctx) (v bodyT, err error) {
	err = c.BodyParser(&v)
	var unmarshalErr *stdJson.UnmarshalTypeError
	if errors.As(err, &unmarshalErr) {
		err = fmt.Errorf(
			"wrong type provided for \"%s\" should be of type (%s) but got value {%s} after reading %d",
			unmarshalErr.Field,
			unmarshalErr.Type,
			unmarshalErr.Value,
			unmarshalErr.Offset,
		)
	}
	return
}

func ErrorResponse(c *fiber.Ctx, message string, httpStatusCode int) error {
	resp := make(map[string]string)
	resp["error"] = message
	return c.Status(httpStatusCode).JSON(resp)
}

var ErrIncorrectContentType = fmt.Errorf(
	"http header did not contain key %s with value %s",
	CONTENT_TYPE,
	CONTENT_TYPE_JSON,
)
