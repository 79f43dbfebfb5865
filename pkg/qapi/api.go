// Package qapi serves CatMAP input previews and local runs over HTTP.
package qapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

func NewApi() *Api {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("CatMAP adapter", "1.0.0")
	config.Info.Description = "Renders CatMAP model files and runs the microkinetic solver locally."

	api := humachi.New(router, config)

	return &Api{Api: api, Router: router}
}
