package ui

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all UI routes on the given router.
func (ui *UI) RegisterRoutes(r chi.Router) {
	// Public routes (no session required).
	r.Get("/login", ui.HandleLogin)
	r.Post("/login", ui.HandleLoginPost)

	// Protected routes (session required).
	r.Group(func(r chi.Router) {
		r.Use(ui.AuthMiddleware)

		// Dashboard
		r.Get("/", ui.HandleDashboard)
		r.Get("/logout", ui.HandleLogout)

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", ui.HandleTaskList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ui.HandleTaskDetail)
				r.Post("/cancel", ui.HandleTaskCancel)
			})
		})

		// Schedule preview
		r.Get("/schedule", ui.HandleSchedule)

		// Account
		r.Route("/account", func(r chi.Router) {
			r.Get("/", ui.HandleAccount)
			r.Post("/deposit", ui.HandleDepositPost)
		})
	})
}
