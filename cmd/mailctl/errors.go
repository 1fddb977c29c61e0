package main

import (
	"errors"

	"github.com/matheus3301/mailctl/internal/attachments"
	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/lock"
	"github.com/matheus3301/mailctl/internal/store"
)

// errPartialDownload is returned after the download summary when some
// attachments failed; the summary already lists them.
var errPartialDownload = errors.New("some attachments could not be downloaded")

// describe renders err for the terminal, adding what the user can do about it.
func describe(err error) string {
	msg := "Error: " + err.Error()
	if hint := remediation(err); hint != "" {
		msg += "\n" + hint
	}
	return msg
}

func remediation(err error) string {
	var (
		apiErr  *graph.APIError
		lockErr *lock.LockHeldError
		cuErr   *attachments.ContentUnavailableError
	)
	switch {
	case errors.Is(err, auth.ErrAuthRefreshFailed):
		return "Your session could not be renewed. Run `mailctl login` to sign in again."
	case errors.Is(err, auth.ErrAuthenticationRequired):
		return "You are not signed in. Run `mailctl login`."
	case errors.Is(err, auth.ErrMissingClientID), errors.Is(err, config.ErrMissingClientID):
		return "Set azure.client_id in ~/.mailctl/config.toml (see `mailctl config init`) or export AZURE_CLIENT_ID."
	case errors.Is(err, store.ErrStorageUnavailable):
		return "The local database could not be used. Check database.path, its permissions and free disk space."
	case errors.Is(err, store.ErrNotFound):
		return "Run `mailctl fetch` first, or check the id with `mailctl list --ids`."
	case errors.As(err, &lockErr):
		return "Another mailctl process is updating the credentials. Retry when it finishes."
	case errors.As(err, &cuErr):
		return "The mail service returned no content for this attachment."
	case graph.IsNotFound(err):
		return "The message, attachment or folder no longer exists on the server. Check the id or folder name."
	case errors.As(err, &apiErr) && apiErr.StatusCode == 403:
		return "The signed-in account lacks permission. Check the Mail.Read scope of the app registration."
	case errors.Is(err, errPartialDownload):
		return "Rerun the command to retry; files already downloaded are skipped."
	}
	return ""
}
