package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestContractHandlerSignMissingDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewContractHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("note", "no file attached"))
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest(http.MethodPost, "/contracts/ct-1/sign", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ct-1"}}

	handler.Sign(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
