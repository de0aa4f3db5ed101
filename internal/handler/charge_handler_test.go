package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestChargeHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewChargeHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/charges", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChargeHandlerRegisterPaymentInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewChargeHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/charges/c1/pay", bytes.NewReader([]byte(`{`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	handler.RegisterPayment(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChargeHandlerUpdateStatusInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewChargeHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/charges/c1/status", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	handler.UpdateStatus(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
