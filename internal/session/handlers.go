package session

import (
	"errors"
	"time"

	"backend-stridetrack/internal/fix"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recovery"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Goal Goal `json:"goal"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !req.Goal.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "invalid goal")
		}
		userID, _ := c.Locals("user_id").(string)
		sess, err := m.Start(c.Context(), userID, req.Goal)
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	r.Get("/current", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := m.Current()
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"session": sess, "metrics": m.Metrics()})
	})

	r.Post("/current/pause", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.Pause(c.Context()); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"status": StatusPaused})
	})

	r.Post("/current/resume", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.Resume(c.Context()); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"status": StatusActive})
	})

	r.Post("/current/complete", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			SubjectiveFeedback int `json:"subjective_feedback"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if req.SubjectiveFeedback < 0 || req.SubjectiveFeedback > 5 {
			return fiber.NewError(fiber.StatusBadRequest, "subjective_feedback must be 1-5")
		}
		final, err := m.Complete(c.Context(), req.SubjectiveFeedback)
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(final)
	})

	r.Post("/current/cancel", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.Cancel(c.Context()); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"status": StatusCancelled})
	})

	r.Post("/current/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var fx fix.Fix
		if err := c.BodyParser(&fx); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if fx.Timestamp.IsZero() {
			fx.Timestamp = time.Now()
		}
		if err := m.PushFix(fx); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(m.Metrics())
	})

	r.Post("/current/background-updates", authMiddleware, func(c *fiber.Ctx) error {
		var u location.Update
		if err := c.BodyParser(&u); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := m.PushBackgroundUpdate(u); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/current/visibility", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Visible bool `json:"visible"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := m.SetVisibility(req.Visible); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// RegisterRecoveryRoutes exposes the crash-recovery offer.
func RegisterRecoveryRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		rec, err := m.PendingRecovery(c.Context())
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(rec)
	})

	r.Post("/accept", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := m.AcceptRecovery(c.Context())
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"session": sess, "metrics": m.Metrics()})
	})

	r.Post("/discard", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.DiscardRecovery(c.Context()); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoSession),
		errors.Is(err, recovery.ErrNotFound),
		errors.Is(err, ErrRecoveryExpired):
		return fiber.StatusNotFound
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrNotPaused),
		errors.Is(err, ErrImmutable):
		return fiber.StatusConflict
	case errors.Is(err, location.ErrBackgroundUnavailable):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
