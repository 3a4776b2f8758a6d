/**
 * @description
 * This file contains the HTTP handlers for the pin-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 * - golang.org/x/net/html: For title extraction on the link-preview endpoint.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/zapin/pin-service/internal/app"
	"github.com/zapin/pin-service/internal/domain"
)

// PinHandlers holds the application service that handlers will use.
type PinHandlers struct {
	service *app.Service

	// previewClient fetches pages for the link-preview endpoint; bounded so a
	// slow remote host cannot pin a handler goroutine.
	previewClient *http.Client
}

// NewPinHandlers creates a new instance of PinHandlers.
func NewPinHandlers(service *app.Service) *PinHandlers {
	return &PinHandlers{
		service: service,
		previewClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewInvoiceHandler handles requests to create a new pin invoice.
func (h *PinHandlers) NewInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.NewInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	invoiceData, err := h.service.CreatePinInvoice(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingParameters):
			h.writeError(w, http.StatusBadRequest, "Missing parameters")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Amount must be a positive number of satoshis")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many invoice requests; slow down")
		default:
			log.Printf("level=error component=api msg=\"invoice creation failed\" err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Error creating invoice")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"invoiceData": invoiceData})
}

// ListInvoicesHandler returns the paginated set of active pins.
func (h *PinHandlers) ListInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	page, limit := paginationParams(r)

	invoices, err := h.service.ListActivePins(r.Context(), page, limit)
	if err != nil {
		log.Printf("level=error component=api msg=\"active pin listing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Error listing invoices")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

// ListDeactivatedInvoicesHandler returns the paginated set of expired pins.
func (h *PinHandlers) ListDeactivatedInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	page, limit := paginationParams(r)

	invoices, err := h.service.ListDeactivatedPins(r.Context(), page, limit)
	if err != nil {
		log.Printf("level=error component=api msg=\"deactivated pin listing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Error listing invoices")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

// CountInvoicesHandler returns active/expired pin totals.
func (h *PinHandlers) CountInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CountPins(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"pin count failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Error counting invoices")
		return
	}

	h.writeJSON(w, http.StatusOK, counts)
}

// GetURLInfoHandler fetches a URL and returns its page title, used by the
// frontend to render link previews inside pin messages.
func (h *PinHandlers) GetURLInfoHandler(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeError(w, http.StatusBadRequest, "Url is required")
		return
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		h.writeError(w, http.StatusBadRequest, "Url must be http or https")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid url")
		return
	}

	resp, err := h.previewClient.Do(req)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Error while fetching URL info")
		return
	}
	defer resp.Body.Close()

	title, err := extractTitle(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Error while fetching URL info")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// extractTitle walks the parsed document for the first non-empty <title>.
func extractTitle(body io.Reader) (string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", err
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if title == "" {
		return "", errors.New("title not found")
	}
	return title, nil
}

func paginationParams(r *http.Request) (page, limit int) {
	page = 1
	limit = app.DefaultPageLimit
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			page = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	return page, limit
}

// writeJSON is a helper for writing JSON responses.
func (h *PinHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

// writeError is a helper for writing a JSON error response.
func (h *PinHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
