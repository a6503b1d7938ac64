package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/westerly/go-push-dispatch/pkg/dispatch"
	"github.com/westerly/go-push-dispatch/pkg/push"
)

// Core is the part of the dispatch engine the HTTP surface drives.
type Core interface {
	SendMessage(ctx context.Context, devices []push.Device, message string, opts *push.SendOptions) (*push.DispatchResult, error)
	ExpiredTokens(ctx context.Context) ([]string, error)
}

type DispatchAPI struct {
	Registry dispatch.DeviceRegistry
	Core     Core
	Logger   *slog.Logger
}

func NewDispatchAPI(registry dispatch.DeviceRegistry, core Core, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Registry: registry,
		Core:     core,
		Logger:   logger,
	}
}

// --- Device registration ---

type RegisterDeviceRequest struct {
	Provider       string `json:"provider"`
	RegistrationID string `json:"registration_id"`
	Name           string `json:"name,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
}

func (api *DispatchAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ownerURN, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user identity")
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RegistrationID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing registration_id")
		return
	}

	provider, err := push.ParseProvider(req.Provider)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	var device *push.Device
	switch provider {
	case push.APNS:
		device = push.NewAPNSDevice(req.RegistrationID)
	case push.GCM:
		device = push.NewGCMDevice(req.RegistrationID)
	}
	device.Name = req.Name
	device.DeviceID = req.DeviceID
	device.Owner = ownerURN.String()

	if err := api.Registry.Save(ctx, device); err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Device registered", "user", ownerURN, "provider", provider, "device_id", device.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": device.ID})
}

type UnregisterDeviceRequest struct {
	RegistrationID string `json:"registration_id"`
}

func (api *DispatchAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RegistrationID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing registration_id")
		return
	}

	if err := api.Registry.Unregister(ctx, req.RegistrationID); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister device", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Synchronous dispatch ---

type SendMessageRequest struct {
	DeviceIDs []string          `json:"device_ids"`
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
	Args      map[string]any    `json:"args,omitempty"`
}

type SendMessageResponse struct {
	NotificationID string                  `json:"notification_id"`
	Receipts       []push.ProviderResponse `json:"receipts"`
}

func (api *DispatchAPI) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Message == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing message")
		return
	}

	devices, err := api.Registry.GetMany(ctx, req.DeviceIDs)
	if err != nil {
		api.Logger.Error("failed to load target devices", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	result, err := api.Core.SendMessage(ctx, devices, req.Message, &push.SendOptions{
		Extra: req.Extra,
		Args:  req.Args,
	})
	if err != nil {
		if errors.Is(err, push.ErrUnknownProvider) {
			response.WriteJSONError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		api.Logger.Error("dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "dispatch failed")
		return
	}
	if result == nil {
		// No registered devices matched the request.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SendMessageResponse{
		NotificationID: result.Notification.ID,
		Receipts:       result.Responses,
	})
}

// --- Token hygiene ---

type ExpiredTokensResponse struct {
	RegistrationIDs []string `json:"registration_ids"`
}

func (api *DispatchAPI) ExpiredTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ids, err := api.Core.ExpiredTokens(ctx)
	if err != nil {
		api.Logger.Error("failed to collect expired tokens", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ExpiredTokensResponse{RegistrationIDs: ids})
}
