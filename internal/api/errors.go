package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// registerValidators adds the domain tags to gin's validator
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if tag == "" || tag == "-" {
				return f.Name
			}
			return tag
		})
		_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
			m := fl.Field().String()
			return m == models.PaymentMethodUPI || m == models.PaymentMethodCOD
		})
		_ = v.RegisterValidation("quotation_status", func(fl validator.FieldLevel) bool {
			return models.ValidQuotationStatus(fl.Field().String())
		})
		_ = v.RegisterValidation("booking_status", func(fl validator.FieldLevel) bool {
			return models.ValidBookingStatus(fl.Field().String())
		})
	})
}

func errorBody(e *apperr.Error) gin.H {
	return gin.H{"message": e.Message(), "code": e.Code()}
}

func abortWithError(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(e.Code()), errorBody(e))
}

// respondError renders err as {"message", "code"}. Errors without a code
// are logged and hidden behind a generic 500.
func respondError(c *gin.Context, err error) {
	if typed := apperr.As(err); typed != nil {
		if typed.Code() == apperr.CodeInternal {
			util.GetLogger().Error("Request failed",
				zap.String("path", c.FullPath()),
				zap.Error(err))
		}
		c.JSON(apperr.HTTPStatus(typed.Code()), errorBody(typed))
		return
	}

	util.GetLogger().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"message": "internal server error",
		"code":    apperr.CodeInternal,
	})
}

// respondBindError renders a binding failure with per-field details
func respondBindError(c *gin.Context, err error) {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := make(map[string]string, len(errs))
		for _, fe := range errs {
			details[fe.Field()] = validationMessage(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "validation failed",
			"code":    apperr.CodeValidation,
			"details": details,
		})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"message": "invalid request body",
		"code":    apperr.CodeValidation,
		"details": gin.H{"error": err.Error()},
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "payment_method":
		return "must be upi or cod"
	case "quotation_status", "booking_status":
		return "is not a valid status"
	}
	return "is invalid"
}
