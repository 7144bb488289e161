package handlers

import (
	"fleetprobe/internal/app"
	connectionController "fleetprobe/internal/controllers/connections"
	"fleetprobe/internal/logger"

	. "fleetprobe/internal/models"

	"github.com/gofiber/fiber/v2"
)

type ConnectionHandler struct {
	Handler
	controller *connectionController.ConnectionController
}

func NewConnectionHandler(app *app.App, router fiber.Router) *ConnectionHandler {
	log := logger.New("handlers").File("connection_handler")
	return &ConnectionHandler{
		controller: app.ConnectionController,
		Handler: Handler{
			log:    log,
			router: router,
		},
	}
}

func (h *ConnectionHandler) Register() {
	connections := h.router.Group("/connections")
	connections.Post("/", h.createConnection)
	connections.Get("/", h.getConnections)
	connections.Delete("/:id", h.deleteConnection)
}

func (h *ConnectionHandler) createConnection(c *fiber.Ctx) error {
	log := h.log.Function("createConnection")

	var request CreateConnectionRequest
	if err := c.BodyParser(&request); err != nil {
		log.Er("failed to parse create connection request", err)
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "failed to parse create connection request"})
	}

	connection, err := h.controller.Create(c.Context(), &request)
	if err != nil {
		log.Er("failed to create connection", err)
		status := fiber.StatusInternalServerError
		if connection != nil {
			// The row exists but the handshake did not finish.
			status = fiber.StatusAccepted
			return c.Status(status).
				JSON(fiber.Map{"message": "connection pending", "connection": connection, "error": err.Error()})
		}
		return c.Status(status).
			JSON(fiber.Map{"message": "failed to create connection", "error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "success", "connection": connection})
}

func (h *ConnectionHandler) getConnections(c *fiber.Ctx) error {
	log := h.log.Function("getConnections")

	connections, err := h.controller.GetAll(c.Context())
	if err != nil {
		log.Er("failed to get connections", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to get connections", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "connections": connections})
}

func (h *ConnectionHandler) deleteConnection(c *fiber.Ctx) error {
	if err := h.controller.Delete(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to delete connection", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success"})
}
