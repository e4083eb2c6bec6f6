package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chat-relay/internal/api"
	"github.com/ashureev/chat-relay/internal/domain"
)

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/message", r.URL.Path)
		var req api.MessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		api.JSON(w, http.StatusOK, api.MessageResponse{Status: "Success", Response: "echo: " + req.Message})
	}))
	defer srv.Close()

	reply, err := sendMessage(context.Background(), srv.Client(), srv.URL+"/", "hi there")
	require.NoError(t, err)
	require.Equal(t, "echo: hi there", reply)
}

func TestSendMessageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		api.Error(w, http.StatusInternalServerError, "Internal Server Error")
	}))
	defer srv.Close()

	_, err := sendMessage(context.Background(), srv.Client(), srv.URL, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestPrintHistory(t *testing.T) {
	turns := []domain.Turn{
		{ID: 1, Author: domain.AuthorUser, Text: "hi", CreatedAt: time.Unix(1700000000, 0).UTC()},
		{ID: 2, Author: domain.AuthorAssistant, Text: "hello", CreatedAt: time.Unix(1700000001, 0).UTC()},
	}

	var table bytes.Buffer
	require.NoError(t, printHistory(&table, turns, false))
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[2], "AI")
	require.Contains(t, lines[2], "hello")

	var raw bytes.Buffer
	require.NoError(t, printHistory(&raw, turns, true))
	var views []domain.View
	require.NoError(t, json.Unmarshal(raw.Bytes(), &views))
	require.Len(t, views, 2)
	require.Equal(t, "User", views[0].User)
}

func TestHistoryCommandReadsStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "chat.db"))
	t.Setenv("RESPONDER", "canned")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--json"})
	require.NoError(t, root.Execute())
	require.Equal(t, "[]", strings.TrimSpace(out.String()))
}
