// Path: internal/handlers/handlers.go
package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"braibit-api/internal/events"
	"braibit-api/internal/models"
	"braibit-api/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const heartbeatInterval = 15 * time.Second

var safeGroupName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type Handler struct {
	transactionService services.TransactionService
	authService        services.AuthService
	accountService     services.AccountService
	exportService      services.ExportService
	hub                *events.Hub
	logger             *zap.Logger
}

func NewHandler(svc *services.Service, hub *events.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		transactionService: svc.Transactions,
		authService:        svc.Auth,
		accountService:     svc.Accounts,
		exportService:      svc.Export,
		hub:                hub,
		logger:             logger,
	}
}

func (h *Handler) ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	details := ""

	var appErr *services.AppError
	var fiberErr *fiber.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		details = appErr.Details
	} else if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	} else {
		details = err.Error()
	}

	if code >= fiber.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("path", c.Path()), zap.Int("status", code), zap.String("details", details))
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   message,
		"details": details,
	})
}

func badRequest(err error) *services.AppError {
	return &services.AppError{
		Code:    fiber.StatusBadRequest,
		Message: "Invalid request format",
		Details: err.Error(),
		Err:     err,
	}
}

func claimsFrom(c *fiber.Ctx) (*models.Claims, error) {
	claims, ok := c.Locals("user").(*models.Claims)
	if !ok {
		return nil, &services.AppError{
			Code:    fiber.StatusInternalServerError,
			Message: "Failed to retrieve user claims",
			Details: "User claims were not of the expected type",
		}
	}
	return claims, nil
}

// Вход с возвратом JWT токена
func (h *Handler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	token, account, err := h.authService.Login(&req)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token":   token,
		"account": account,
	})
}

// AuthMiddleware accepts a bearer token, or a token query parameter for
// clients such as EventSource that cannot set headers.
func (h *Handler) AuthMiddleware(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodOptions {
		return c.Next()
	}

	token := c.Query("token")
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		if _, err := fmt.Sscanf(authHeader, "Bearer %s", &token); err != nil {
			return &services.AppError{
				Code:    fiber.StatusUnauthorized,
				Message: "Invalid token format",
				Details: err.Error(),
			}
		}
	}
	if token == "" {
		return &services.AppError{
			Code:    fiber.StatusUnauthorized,
			Message: "Missing token",
			Details: "Authorization header is empty",
		}
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return err
	}

	c.Locals("user", claims)
	return c.Next()
}

func (h *Handler) Me(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	wallet, err := h.accountService.Wallet(claims)
	if err != nil {
		return err
	}
	return c.JSON(wallet)
}

func (h *Handler) GetAccounts(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	accounts, err := h.accountService.Students(claims, c.Query("group"))
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

func (h *Handler) GetTasks(c *fiber.Ctx) error {
	return c.JSON(h.accountService.Tasks())
}

func (h *Handler) GetStore(c *fiber.Ctx) error {
	return c.JSON(h.accountService.Catalog())
}

func (h *Handler) GetBlocks(c *fiber.Ctx) error {
	return c.JSON(h.accountService.Blocks())
}

func (h *Handler) GetMarket(c *fiber.Ctx) error {
	return c.JSON(h.accountService.Market())
}

func (h *Handler) Award(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req models.AwardRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	tx, err := h.transactionService.Award(c.UserContext(), &req, claims)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tx)
}

func (h *Handler) Purchase(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req models.PurchaseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	tx, err := h.transactionService.Purchase(c.UserContext(), &req, claims)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tx)
}

func (h *Handler) Cancel(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	tx, err := h.transactionService.Cancel(c.UserContext(), c.Params("id"), claims)
	if err != nil {
		return err
	}
	return c.JSON(tx)
}

func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	txs, err := h.transactionService.History(claims)
	if err != nil {
		return err
	}
	return c.JSON(txs)
}

func (h *Handler) RenameGroup(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req models.RenameGroupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	group, err := h.accountService.RenameGroup(c.UserContext(), claims, c.Params("id"), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(group)
}

func (h *Handler) ExportCSV(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	group := c.Query("group")
	var buf strings.Builder
	if _, err := h.exportService.StudentsCSV(&buf, claims, group); err != nil {
		return err
	}

	filename := "braibit-students.csv"
	if safeGroupName.MatchString(group) {
		filename = fmt.Sprintf("braibit-students-%s.csv", group)
	}
	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.SendString(buf.String())
}

func (h *Handler) ExportPrint(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var buf strings.Builder
	if _, err := h.exportService.StudentsPrint(&buf, claims, c.Query("group")); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(buf.String())
}

// Events streams document changes as server-sent events until the client
// goes away or the hub is closed.
func (h *Handler) Events(c *fiber.Ctx) error {
	id, changes := h.hub.Subscribe()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(id)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		fmt.Fprint(w, "retry: 3000\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				data, err := json.Marshal(change)
				if err != nil {
					h.logger.Warn("Failed to encode change", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				h.logger.Debug("Event stream closed", zap.String("subscriber_id", string(id)))
				return
			}
		}
	})
	return nil
}
