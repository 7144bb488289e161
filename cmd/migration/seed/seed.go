package seed

import (
	"fleetprobe/config"
	"fleetprobe/internal/logger"

	. "fleetprobe/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Seed creates a small demo fleet for local development. Ports come from
// the bottom of the configured pool; the relay secret is fixed so the demo
// containers can be driven by hand.
func Seed(db *gorm.DB, config config.Config, log logger.Logger) error {
	log = log.Function("Seed")
	log.Info("Seeding development fleet")

	hash, err := bcrypt.GenerateFromPassword([]byte("fleetprobe-dev"), bcrypt.DefaultCost)
	if err != nil {
		return log.Err("failed to hash demo secret", err)
	}

	clients := []TestClient{
		{
			Slug:         "probe-alpha",
			DisplayName:  "Probe Alpha",
			Port:         config.PortRangeStart,
			Status:       ClientStatusCreated,
			PasswordHash: string(hash),
		},
		{
			Slug:         "probe-bravo",
			DisplayName:  "Probe Bravo",
			Port:         config.PortRangeStart + 1,
			Status:       ClientStatusCreated,
			PasswordHash: string(hash),
		},
		{
			Slug:         "probe-charlie",
			DisplayName:  "Probe Charlie",
			Port:         config.PortRangeStart + 2,
			UseProxy:     true,
			Status:       ClientStatusCreated,
			PasswordHash: string(hash),
		},
	}

	for _, client := range clients {
		var existing TestClient
		if err := db.First(&existing, "slug = ?", client.Slug).Error; err == nil {
			log.Info("Client already exists", "slug", client.Slug)
			continue
		}
		log.Info("Seeding client", "slug", client.Slug, "port", client.Port)
		if err := db.Create(&client).Error; err != nil {
			log.Er("failed to create client", err, "slug", client.Slug)
		}
	}

	return nil
}
