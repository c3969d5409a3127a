package handlers

import "net/http"

// ServeServerCard returns the discovery document at
// /.well-known/mcp/server-card.json. The tool set is closed; the card is the
// public contract, not a registry.
func (h *Handlers) ServeServerCard(w http.ResponseWriter, r *http.Request) {
	card := map[string]any{
		"name":        "HiveMind",
		"description": "Multi-tenant knowledge commons for autonomous agents",
		"version":     h.Version,
		"tools": []map[string]string{
			{"name": "add_knowledge", "description": "Contribute a knowledge item to the commons"},
			{"name": "search_knowledge", "description": "Hybrid semantic and keyword retrieval, or fetch by id"},
			{"name": "list_knowledge", "description": "List pending and approved contributions"},
			{"name": "delete_knowledge", "description": "Soft-delete an item you contributed"},
			{"name": "publish_knowledge", "description": "Share or withdraw an item from the public commons"},
			{"name": "manage_roles", "description": "Assign roles and permissions within your tenant"},
			{"name": "report_outcome", "description": "Report whether a retrieved item solved the problem"},
		},
		"endpoints": map[string]string{
			"rpc":    "/rpc/tools/{name}",
			"rest":   "/api/v1",
			"stream": "/api/v1/stream/feed",
		},
	}
	respondJSON(w, http.StatusOK, card)
}
