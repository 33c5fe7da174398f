package services

import (
	"context"
	"fmt"

	"github.com/benford266/ComfyImageGen/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Api struct {
	server         *fiber.App
	gen            Generator
	hub            *Hub
	async          *Dispatcher
	ctx            context.Context
	port           string
	allowedOrigins string
	staticDir      string
}

func NewApi(ctx context.Context, gen Generator, hub *Hub, async *Dispatcher, config config.ApiConfig) *Api {
	if config.AllowedOrigins == "" {
		config.AllowedOrigins = "*"
	}

	a := &Api{
		server:         fiber.New(fiber.Config{DisableStartupMessage: true}),
		gen:            gen,
		hub:            hub,
		async:          async,
		ctx:            ctx,
		port:           config.Port,
		allowedOrigins: config.AllowedOrigins,
		staticDir:      config.StaticDir,
	}
	a.setup()
	return a
}

func (a *Api) Start() error {
	return a.server.Listen(fmt.Sprint(":", a.port))
}

func (a *Api) Shutdown(ctx context.Context) error {
	return a.server.ShutdownWithContext(ctx)
}

func (a *Api) setup() {

	allowCredentials := a.allowedOrigins != "*"

	a.server.Use(cors.New(cors.Config{
		AllowOrigins:     a.allowedOrigins,
		AllowCredentials: allowCredentials,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Content-Type,Authorization,Accept,Origin",
	}))
	a.server.Use(RequestLogger())

	// generations outlive the http request but not the process
	a.server.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(a.ctx)
		return c.Next()
	})

	a.addRoutes()
}

func (a *Api) addRoutes() {
	a.server.Add("GET", "/health", a.Health())
	a.server.Add("POST", "/api/generate", a.Generate())
	a.server.Add("POST", "/api/generate/async", a.GenerateAsync())
	a.server.Add("GET", "/api/status", a.Status())
	a.server.Add("GET", "/api/proxy-image", a.ProxyImage())

	// websocket connection
	a.server.Use("/ws", a.WsUpgrade())
	a.server.Get("/ws/:id", a.Notifications())

	if a.staticDir != "" {
		a.server.Static("/", a.staticDir)
	}
}
