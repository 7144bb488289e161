package handlers

import (
	"errors"
	"fleetprobe/internal/app"
	"fleetprobe/internal/campaign"
	campaignController "fleetprobe/internal/controllers/campaigns"
	"fleetprobe/internal/logger"

	. "fleetprobe/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CampaignHandler struct {
	Handler
	controller *campaignController.CampaignController
}

func NewCampaignHandler(app *app.App, router fiber.Router) *CampaignHandler {
	log := logger.New("handlers").File("campaign_handler")
	return &CampaignHandler{
		controller: app.CampaignController,
		Handler: Handler{
			log:    log,
			router: router,
		},
	}
}

func (h *CampaignHandler) Register() {
	campaigns := h.router.Group("/campaigns")
	campaigns.Post("/", h.startCampaign)
	campaigns.Get("/", h.getCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/cancel", h.cancelCampaign)
}

func (h *CampaignHandler) startCampaign(c *fiber.Ctx) error {
	log := h.log.Function("startCampaign")

	var request CreateCampaignRequest
	if err := c.BodyParser(&request); err != nil {
		log.Er("failed to parse campaign request", err)
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"message": "failed to parse campaign request"})
	}

	run, err := h.controller.Start(c.Context(), &request)
	if err != nil {
		log.Er("failed to start campaign", err)
		status := fiber.StatusInternalServerError
		if errors.Is(err, campaign.ErrNoRecipients) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).
			JSON(fiber.Map{"message": "failed to start campaign", "error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "success", "campaign": run})
}

func (h *CampaignHandler) getCampaigns(c *fiber.Ctx) error {
	log := h.log.Function("getCampaigns")

	runs, err := h.controller.GetAll(c.Context())
	if err != nil {
		log.Er("failed to get campaigns", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to get campaigns", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success", "campaigns": runs})
}

func (h *CampaignHandler) getCampaign(c *fiber.Ctx) error {
	run, progress, err := h.controller.Get(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(fiber.Map{"message": "campaign not found"})
	}

	return c.JSON(fiber.Map{"message": "success", "campaign": run, "progress": progress})
}

func (h *CampaignHandler) cancelCampaign(c *fiber.Ctx) error {
	log := h.log.Function("cancelCampaign")

	if err := h.controller.Cancel(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, campaign.ErrRunNotActive) {
			return c.Status(fiber.StatusConflict).
				JSON(fiber.Map{"message": "campaign is not active"})
		}
		log.Er("failed to cancel campaign", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"message": "failed to cancel campaign", "error": err.Error()})
	}

	return c.JSON(fiber.Map{"message": "success"})
}
