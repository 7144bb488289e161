package app

import (
	"context"
	"fleetprobe/config"
	"fleetprobe/internal/bridge"
	"fleetprobe/internal/campaign"
	"fleetprobe/internal/command"
	"fleetprobe/internal/database"
	"fleetprobe/internal/events"
	"fleetprobe/internal/handlers/middleware"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"fleetprobe/internal/runtime"
	"fleetprobe/internal/services"
	"fleetprobe/internal/websockets"
	"sync"

	campaignController "fleetprobe/internal/controllers/campaigns"
	clientController "fleetprobe/internal/controllers/clients"
	connectionController "fleetprobe/internal/controllers/connections"
	messageController "fleetprobe/internal/controllers/messages"
)

type App struct {
	Database   database.DB
	Middleware middleware.Middleware
	Websocket  *websockets.Manager
	EventBus   *events.EventBus
	Config     config.Config

	// Services
	TransactionService *services.TransactionService

	// Repositories
	ClientRepo     repositories.TestClientRepository
	ConnectionRepo repositories.ConnectionRepository
	MessageRepo    repositories.MessageRepository
	CampaignRepo   repositories.CampaignRepository

	// Orchestration core
	Supervisor runtime.Supervisor
	Bridge     *bridge.Bridge
	Engine     *campaign.Engine

	// Controllers
	ClientController     *clientController.ClientController
	ConnectionController *connectionController.ConnectionController
	MessageController    *messageController.MessageController
	CampaignController   *campaignController.CampaignController

	bridgeCancel context.CancelFunc
	bridgeDone   sync.WaitGroup
}

func New() (*App, error) {
	log := logger.New("app").Function("New")

	config, err := config.InitConfig()
	if err != nil {
		return &App{}, log.Err("failed to initialize config", err)
	}

	db, err := database.New(config)
	if err != nil {
		return &App{}, log.Err("failed to create database", err)
	}

	eventBus := events.New(db.Cache.Events, config)

	// Initialize services
	transactionService := services.NewTransactionService(db)

	// Initialize repositories
	clientRepo := repositories.NewTestClient(db)
	connectionRepo := repositories.NewConnection(db)
	messageRepo := repositories.NewMessage(db)
	campaignRepo := repositories.NewCampaign(db)

	supervisor, err := runtime.NewDocker(clientRepo, config)
	if err != nil {
		return &App{}, log.Err("failed to create runtime supervisor", err)
	}

	fleetBridge := bridge.New(clientRepo, messageRepo, eventBus, config)

	engine := campaign.NewEngine(campaignRepo, messageRepo, clientRepo, connectionRepo,
		func(clientID string) (command.Sender, error) {
			return fleetBridge.Sender(clientID)
		}, config)

	// Initialize controllers
	middleware := middleware.New(db, eventBus, config)
	clientController := clientController.New(clientRepo, supervisor, eventBus, config)
	connectionController := connectionController.New(connectionRepo, clientRepo, fleetBridge)
	messageController := messageController.New(messageRepo, clientRepo, fleetBridge)
	campaignController := campaignController.New(engine, campaignRepo)

	websocket, err := websockets.New(db, eventBus, config)
	if err != nil {
		return &App{}, log.Err("failed to create websocket manager", err)
	}

	app := &App{
		Database:             db,
		Config:               config,
		Middleware:           middleware,
		EventBus:             eventBus,
		TransactionService:   transactionService,
		ClientRepo:           clientRepo,
		ConnectionRepo:       connectionRepo,
		MessageRepo:          messageRepo,
		CampaignRepo:         campaignRepo,
		Supervisor:           supervisor,
		Bridge:               fleetBridge,
		Engine:               engine,
		ClientController:     clientController,
		ConnectionController: connectionController,
		MessageController:    messageController,
		CampaignController:   campaignController,
		Websocket:            websocket,
	}

	if err := app.validate(); err != nil {
		return &App{}, log.Err("failed to validate app", err)
	}

	return app, nil
}

// Start launches the fleet bridge as an explicit supervised background
// task. Shutdown goes through Close, never an implicit framework hook.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.bridgeCancel = cancel

	a.bridgeDone.Add(1)
	go func() {
		defer a.bridgeDone.Done()
		a.Bridge.Run(ctx)
	}()
}

func (a *App) validate() error {
	log := logger.New("app").Function("validate")
	if a.Database.SQL == nil {
		return log.ErrMsg("database is nil")
	}

	if a.Config == (config.Config{}) {
		return log.ErrMsg("config is nil")
	}

	nilChecks := []any{
		a.Websocket,
		a.EventBus,
		a.TransactionService,
		a.ClientRepo,
		a.ConnectionRepo,
		a.MessageRepo,
		a.CampaignRepo,
		a.Supervisor,
		a.Bridge,
		a.Engine,
		a.ClientController,
		a.ConnectionController,
		a.MessageController,
		a.CampaignController,
	}

	for _, check := range nilChecks {
		if check == nil {
			return log.ErrMsg("nil check failed")
		}
	}

	return nil
}

func (a *App) Close() (err error) {
	if a.bridgeCancel != nil {
		a.bridgeCancel()
		a.bridgeDone.Wait()
	}

	if a.Engine != nil {
		a.Engine.Close()
	}

	if a.EventBus != nil {
		if closeErr := a.EventBus.Close(); closeErr != nil {
			err = closeErr
		}
	}

	if dbErr := a.Database.Close(); dbErr != nil {
		err = dbErr
	}

	return err
}
