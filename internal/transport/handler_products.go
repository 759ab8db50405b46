package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/eapp/model"
)

// ProductSummary is one entry of the product listing.
type ProductSummary struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	CarrierID    string `json:"carrier_id"`
	PlanType     string `json:"plan_type,omitempty"`
	DefinitionID string `json:"definition_id"`
	Version      string `json:"version"`
}

func handleListProducts(defs DefinitionCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := defs.All()
		products := make([]ProductSummary, 0, len(all))
		for _, d := range all {
			products = append(products, ProductSummary{
				ProductID:    d.ProductID,
				ProductName:  d.ProductName,
				CarrierID:    d.CarrierID,
				PlanType:     d.PlanType,
				DefinitionID: d.ID,
				Version:      d.Version,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"products": products})
	}
}

func handleGetDefinition(defs DefinitionCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productId")
		def, ok := defs.Get(productID)
		if !ok {
			WriteErrorCtx(r.Context(), w, model.NewNotFoundError("product "+productID+" not found"))
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}
