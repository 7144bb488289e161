package handlers

import (
	"fleetprobe/internal/app"
	clientController "fleetprobe/internal/controllers/clients"
	"fleetprobe/internal/logger"
	"strconv"

	. "fleetprobe/internal/models"

	"github.com/gofiber/fiber/v2"
)

type ClientHandler struct {
	Handler
	controller *clientController.ClientController
}

func NewClientHandler(app *app.App, router fiber.Router) *ClientHandler {
	log := logger.New("handlers").File("client_handler")
	return &ClientHandler{
		controller: app.ClientController,
		Handler: Handler{
			log:    log,
			router: router,
		},
	}
}

func (h *ClientHandler) Register() {
	clients := h.router.Group("/clients")
	clients.Post("/", h.createClient)
	clients.Get("/", h.getClients)
	clients.Get("/:id", h.getClient)
	clients.Delete("/:id", h.deleteClient)
	clients.Post("/:id/start", h.startClient)
	clients.Post("/:id/stop", h.stopClient)
	clients.Post("/:id/restart", h.restartClient)
	clients.Get("/:id/health", h.clientHealth)
	clients.Get("/:id/logs", h.clientLogs)
}

func (h *ClientHandler) createClient(c *fiber.Ctx) error {
	log := h.log.Function("createClient")

	var request CreateTestClientRequest
	if err := c.BodyParser(&request); err != nil {
		log.Er("failed to parse create client request", err)
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "failed to parse create client request"})
	}

	client, err := h.controller.Create(c.Context(), &request)
	if err != nil {
		log.Er("failed to create client", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to create client", "error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "success", "client": client})
}

func (h *ClientHandler) getClients(c *fiber.Ctx) error {
	log := h.log.Function("getClients")

	clients, err := h.controller.GetAll(c.Context())
	if err != nil {
		log.Er("failed to get clients", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to get clients", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "clients": clients})
}

func (h *ClientHandler) getClient(c *fiber.Ctx) error {
	client, err := h.controller.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(fiber.Map{"message": "client not found"})
	}

	return c.JSON(fiber.Map{"message": "success", "client": client})
}

func (h *ClientHandler) deleteClient(c *fiber.Ctx) error {
	log := h.log.Function("deleteClient")

	if err := h.controller.Delete(c.Context(), c.Params("id")); err != nil {
		log.Er("failed to delete client", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to delete client", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success"})
}

func (h *ClientHandler) startClient(c *fiber.Ctx) error {
	log := h.log.Function("startClient")

	client, err := h.controller.Start(c.Context(), c.Params("id"))
	if err != nil {
		log.Er("failed to start client", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to start client", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "client": client})
}

func (h *ClientHandler) stopClient(c *fiber.Ctx) error {
	log := h.log.Function("stopClient")

	client, err := h.controller.Stop(c.Context(), c.Params("id"))
	if err != nil {
		log.Er("failed to stop client", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to stop client", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "client": client})
}

func (h *ClientHandler) restartClient(c *fiber.Ctx) error {
	log := h.log.Function("restartClient")

	client, err := h.controller.Restart(c.Context(), c.Params("id"))
	if err != nil {
		log.Er("failed to restart client", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to restart client", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "client": client})
}

func (h *ClientHandler) clientHealth(c *fiber.Ctx) error {
	health, err := h.controller.Health(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to check health", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "health": health})
}

func (h *ClientHandler) clientLogs(c *fiber.Ctx) error {
	tail, _ := strconv.Atoi(c.Query("tail", "100"))

	lines, err := h.controller.Logs(c.Context(), c.Params("id"), tail)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to read logs", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "lines": lines})
}
