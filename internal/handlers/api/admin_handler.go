package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/users"
	"github.com/sikulab/secauth/model"
)

// AdminHandler exposes operator interventions on accounts, behind the ADMIN
// role guard.
type AdminHandler struct {
	userService *users.UserService
}

func NewAdminHandler(userService *users.UserService) *AdminHandler {
	return &AdminHandler{userService: userService}
}

type setStatusRequest struct {
	Enabled bool `json:"enabled"`
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

func pathUserID(ctx *fiber.Ctx) (uint64, error) {
	userID, err := strconv.ParseUint(ctx.Params("id"), 10, 64)
	if err != nil || userID == 0 {
		return 0, errcode.ErrInvalidParameter
	}
	return userID, nil
}

func (h *AdminHandler) GetUser(ctx *fiber.Ctx) error {
	userID, err := pathUserID(ctx)
	if err != nil {
		return err
	}
	user, err := h.userService.GetUserByID(ctx.Context(), userID)
	if err != nil {
		return err
	}
	return renderData(ctx, users.Summarize(user))
}

func (h *AdminHandler) PostSetStatus(ctx *fiber.Ctx) error {
	userID, err := pathUserID(ctx)
	if err != nil {
		return err
	}
	var req setStatusRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	status := model.UserStatusDisabled
	if req.Enabled {
		status = model.UserStatusEnabled
	}
	if err := h.userService.SetUserStatus(ctx.Context(), userID, status); err != nil {
		return err
	}
	return renderData(ctx, nil)
}

// PostUnlock clears a lockout ahead of its natural expiry.
func (h *AdminHandler) PostUnlock(ctx *fiber.Ctx) error {
	userID, err := pathUserID(ctx)
	if err != nil {
		return err
	}
	if err := h.userService.UnlockUser(ctx.Context(), userID); err != nil {
		return err
	}
	return renderData(ctx, nil)
}

func (h *AdminHandler) PostSetRoles(ctx *fiber.Ctx) error {
	userID, err := pathUserID(ctx)
	if err != nil {
		return err
	}
	var req setRolesRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	if err := h.userService.SetRoles(ctx.Context(), userID, req.Roles); err != nil {
		return err
	}
	return renderData(ctx, nil)
}
