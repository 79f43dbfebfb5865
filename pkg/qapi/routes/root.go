package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/quatton/catmap-adapter/pkg/qapi/services"
)

// RegisterAPI registers every route. svcs may be nil when only the OpenAPI
// document is needed.
func RegisterAPI(api huma.API, svcs *services.Services) {
	RegisterHealth(api)
	RegisterInputs(api, svcs)
	RegisterRuns(api, svcs)
}
