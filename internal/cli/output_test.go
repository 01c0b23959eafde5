package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(CleanupResult{Removed: 3})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"removed": 3.0}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeStorageFatal, "failed to open archive", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E003", resp.Error.Code)
	assert.Equal(t, "failed to open archive", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(DaysResult{Days: []int{1, 15}}))
	assert.Equal(t, "1 15\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error(ErrCodeConfig, "bad config", "line 3"))
	assert.Equal(t, "Error [E002]: bad config\nDetails: line 3\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden")
	assert.Empty(t, errOut.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	loud.VerboseLog("%d results", 4)
	assert.Equal(t, "4 results\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestMessageLine(t *testing.T) {
	f := &OutputFormatter{Format: "text", Location: time.FixedZone("UTC+2", 2*60*60)}
	row := &model.MessageRow{PK: 1, Message: model.Message{
		Conversation: model.Conversation{
			Account: jid.MustParse("user@example.org"),
			Remote:  jid.MustParse("room@conference.example.org"),
		},
		Resource:  "alice",
		Type:      model.MessageTypeGroupchat,
		Direction: model.DirectionIncoming,
		Timestamp: time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC),
		Text:      "happy new year",
	}}
	assert.Equal(t, "[2024-01-02 01:30:00] alice: happy new year", f.messageLine(row))

	row.Direction = model.DirectionOutgoing
	row.Retraction = &model.Retraction{}
	assert.Equal(t, "[2024-01-02 01:30:00] me: (retracted)", f.messageLine(row))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))

	fatal := fmt.Errorf("open: %w", store.ErrStorageFatal)
	assert.Equal(t, ExitStorageFatal, GetExitCode(fatal))
	assert.Equal(t, ExitStorageFatal, GetExitCode(WrapExitError(ExitFailure, "failed", fatal)))

	wrapped := WrapExitError(ExitFailure, "export failed", errors.New("disk"))
	assert.Equal(t, "export failed: disk", wrapped.Error())
	assert.Equal(t, ErrCodeStorageFatal, errorCode(ExitStorageFatal))
}
