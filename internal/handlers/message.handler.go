package handlers

import (
	"fleetprobe/internal/app"
	messageController "fleetprobe/internal/controllers/messages"
	"fleetprobe/internal/logger"
	"strconv"

	. "fleetprobe/internal/models"

	"github.com/gofiber/fiber/v2"
)

type MessageHandler struct {
	Handler
	controller *messageController.MessageController
}

func NewMessageHandler(app *app.App, router fiber.Router) *MessageHandler {
	log := logger.New("handlers").File("message_handler")
	return &MessageHandler{
		controller: app.MessageController,
		Handler: Handler{
			log:    log,
			router: router,
		},
	}
}

func (h *MessageHandler) Register() {
	messages := h.router.Group("/messages")
	messages.Post("/", h.sendMessage)
	messages.Get("/", h.getMessages)
	messages.Get("/:id", h.getMessage)
}

func (h *MessageHandler) sendMessage(c *fiber.Ctx) error {
	log := h.log.Function("sendMessage")

	var request SendMessageRequest
	if err := c.BodyParser(&request); err != nil {
		log.Er("failed to parse send message request", err)
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "failed to parse send message request"})
	}

	message, err := h.controller.Send(c.Context(), &request)
	if err != nil {
		log.Er("failed to send message", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to send message", "error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "success", "sent": message})
}

func (h *MessageHandler) getMessages(c *fiber.Ctx) error {
	log := h.log.Function("getMessages")

	if campaignID := c.Query("campaignId"); campaignID != "" {
		messages, err := h.controller.GetByCampaign(c.Context(), campaignID)
		if err != nil {
			log.Er("failed to get campaign messages", err)
			return c.Status(fiber.StatusInternalServerError).
				JSON(fiber.Map{"message": "failed to get messages", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "success", "messages": messages})
	}

	senderID := c.Query("clientId")
	if senderID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "clientId or campaignId query parameter is required"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	messages, err := h.controller.GetBySender(c.Context(), senderID, limit)
	if err != nil {
		log.Er("failed to get messages", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to get messages", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "messages": messages})
}

func (h *MessageHandler) getMessage(c *fiber.Ctx) error {
	message, err := h.controller.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(fiber.Map{"message": "message not found"})
	}

	return c.JSON(fiber.Map{"message": "success", "messageRecord": message})
}
