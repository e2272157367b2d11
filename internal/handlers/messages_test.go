package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowdesk/internal/models"
)

func (e *testEnv) upload(t *testing.T, path, token, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func listMessages(t *testing.T, e *testEnv, id uint, token string) []models.TradeMessage {
	t.Helper()
	w := e.do(t, http.MethodGet, tradePath(id, "messages"), token, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msgs []models.TradeMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	return msgs
}

func TestTradeChat(t *testing.T) {
	e := setupTest(t)
	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	stranger := e.register(t, "stranger")
	l := e.listing(t, seller, p2pSellListing)
	tr := e.trade(t, buyer, l.ID, "10")
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, tradePath(tr.ID, "deposit"), seller.Token, depositBody()).Code)

	msgs := listMessages(t, e, tr.ID, buyer.Token)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageTypeSystem, msgs[0].Type)
	assert.Nil(t, msgs[0].UserID)

	w := e.do(t, http.MethodPost, tradePath(tr.ID, "messages"), buyer.Token, `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msg models.TradeMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Equal(t, "buyer", msg.SenderName)

	w = e.do(t, http.MethodPost, tradePath(tr.ID, "messages"), seller.Token, `{"content":"hi there"}`)
	require.Equal(t, http.StatusOK, w.Code)

	msgs = listMessages(t, e, tr.ID, seller.Token)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "hi there", msgs[2].Content)

	w = e.do(t, http.MethodPost, tradePath(tr.ID, "messages"), buyer.Token, `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPost, tradePath(tr.ID, "messages"), buyer.Token, `{"content":"`+strings.Repeat("x", 4001)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, tradePath(tr.ID, "messages"), stranger.Token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPost, tradePath(tr.ID, "messages"), stranger.Token, `{"content":"spam"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTradeChatFile(t *testing.T) {
	e := setupTest(t)
	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	l := e.listing(t, seller, p2pSellListing)
	tr := e.trade(t, buyer, l.ID, "10")

	w := e.upload(t, tradePath(tr.ID, "messages"), buyer.Token, "receipt.PNG", "png-bytes")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msg models.TradeMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, models.MessageTypeFile, msg.Type)
	require.Len(t, msg.Attachments, 1)
	assert.True(t, strings.HasSuffix(msg.Attachments[0], ".png"))
	data, ok := e.store.Object(msg.Attachments[0])
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))
}

func TestUploadAttachment(t *testing.T) {
	e := setupTest(t)
	seller := e.register(t, "seller")
	buyer := e.register(t, "buyer")
	stranger := e.register(t, "stranger")
	l := e.listing(t, seller, p2pSellListing)
	tr := e.trade(t, buyer, l.ID, "10")

	w := e.upload(t, tradePath(tr.ID, "attachments")+"?kind=evidence", buyer.Token, "proof.jpg", "jpeg")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp AttachmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Object, "/evidence/")
	assert.Equal(t, "memory://"+resp.Object, resp.URL)

	w = e.upload(t, tradePath(tr.ID, "attachments")+"?kind=other", buyer.Token, "proof.jpg", "jpeg")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.upload(t, tradePath(tr.ID, "attachments"), stranger.Token, "proof.jpg", "jpeg")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
