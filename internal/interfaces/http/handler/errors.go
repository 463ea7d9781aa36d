package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"z-novel-setting-api/internal/application/quota"
	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/internal/interfaces/http/dto"
	apperrors "z-novel-setting-api/pkg/errors"
	"z-novel-setting-api/pkg/logger"
)

// toAppError 将引擎错误映射为对外错误码
func toAppError(err error) *apperrors.AppError {
	var (
		appErr *apperrors.AppError
		mce    *setting.ModelConfigError
		ice    *quota.InsufficientCreditsError
		ve     *setting.ValidationError
		gfe    *setting.GenerationFailedError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, setting.ErrSessionNotFound):
		return apperrors.ErrSessionNotFound
	case errors.Is(err, setting.ErrNodeNotFound):
		return apperrors.ErrNodeNotFound
	case errors.Is(err, setting.ErrHistoryNotFound):
		return apperrors.ErrHistoryNotFound
	case errors.Is(err, setting.ErrSessionNotReady):
		return apperrors.ErrSessionNotReady.WithDetail(err.Error())
	case errors.Is(err, setting.ErrSessionBusy):
		return apperrors.ErrConflict.WithDetail(err.Error())
	case errors.Is(err, setting.ErrInvalidInput):
		return apperrors.ErrInvalidParam.WithDetail(err.Error())
	case errors.As(err, &mce):
		return apperrors.ErrModelConfigInvalid.WithDetail(mce.Reason).WithError(err)
	case errors.As(err, &ice):
		return apperrors.ErrInsufficientCredits.WithError(err)
	case errors.As(err, &ve):
		if ve.IsScopeViolation() {
			return apperrors.ErrScopeViolation.WithDetail(ve.Message)
		}
		return apperrors.ErrValidationFailed.WithDetail(ve.Message)
	case errors.As(err, &gfe):
		return apperrors.ErrGenerationFailed.WithDetail(gfe.Reason).WithError(err)
	default:
		return apperrors.ErrInternalError.WithError(err)
	}
}

// respondError 输出错误；服务端错误记录日志
func respondError(c *gin.Context, op string, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error(c.Request.Context(), op+" failed", err)
	}
	dto.AppError(c, appErr)
}
