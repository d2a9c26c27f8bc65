package api

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mediavault/mediavault/internal/api/jobs"
	"github.com/mediavault/mediavault/internal/api/streams"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/http/websocket"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore is a union of all the controller store requirements.
	dataStore interface {
		jobs.Store
		streams.Store
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes the server exposes and
	// to manage ongoing websocket connections and their event feed.
	RestGateway struct {
		*broadcaster
		config            *RestConfig
		ec                *echo.Echo
		socket            *websocket.SocketHub
		store             dataStore
		jobsController    controller
		streamsController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	queueService jobs.QueueService,
	eventBus event.Coordinator,
	store dataStore,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	validate := validator.New()
	gateway := &RestGateway{
		broadcaster:       newBroadcaster(socket, eventBus, store),
		config:            config,
		ec:                ec,
		socket:            socket,
		store:             store,
		jobsController:    jobs.New(validate, queueService, store),
		streamsController: streams.New(store),
	}

	socket.WithConnectionCallback(gateway.connectionPayload)
	socket.BindCommand("JOB_INDEX", gateway.wsJobIndex)
	socket.BindCommand("JOB_STATUS", gateway.wsJobStatus)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/mediavault/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	jobGroup := ec.Group("/api/mediavault/v1/jobs")
	gateway.jobsController.SetRoutes(jobGroup)
	gateway.streamsController.SetRoutes(jobGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket hub and its event feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.broadcaster.run(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
