// Package main provides the party admin CLI.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app        = kingpin.New("partyctl", "admin CLI for the party server")
	serverURL  = app.Flag("server", "Server base URL").Default("http://localhost:8080").Envar("PARTYBOX_SERVER").String()
	adminToken = app.Flag("token", "Admin token").Envar("ADMIN_TOKEN").String()

	createCmd  = app.Command("create", "Create a party")
	createName = createCmd.Flag("name", "Party name").String()

	stateCmd = app.Command("state", "Show full party state")

	popCmd = app.Command("pop", "Advance to the next track")

	pauseCmd = app.Command("pause", "Pause playback")

	transferCmd    = app.Command("transfer", "Transfer playback to a device")
	transferDevice = transferCmd.Flag("device", "Target device ID").Required().String()

	removeCmd = app.Command("remove", "Remove a track from the queue")
	removeURI = removeCmd.Flag("uri", "Track URI").Required().String()

	reorderCmd  = app.Command("reorder", "Reorder the queue")
	reorderURIs = reorderCmd.Flag("uri", "Track URIs in the desired order (repeatable)").Required().Strings()

	refreshCmd = app.Command("refresh", "Rebuild the fallback pool from the playlist")

	settingsCmd     = app.Command("settings", "Update party settings")
	settingsTheme   = settingsCmd.Flag("theme", "Theme name").String()
	settingsKaraoke = settingsCmd.Flag("karaoke", "Karaoke mode on/off").Enum("on", "off")
	settingsTokens  = settingsCmd.Flag("tokens", "Token enforcement on/off").Enum("on", "off")
	settingsCap     = settingsCmd.Flag("cap", "Global token cap").Int()

	endCmd = app.Command("end", "End the party")
)

func main() {
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{
		base:  *serverURL,
		token: *adminToken,
		http:  &http.Client{Timeout: 15 * time.Second},
	}

	var err error
	switch command {
	case createCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/party", map[string]any{"name": *createName})
	case stateCmd.FullCommand():
		err = c.call(http.MethodGet, "/api/state", nil)
	case popCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/queue/pop", nil)
	case pauseCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/admin/playback/pause", nil)
	case transferCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/admin/playback/transfer", map[string]any{"device_id": *transferDevice})
	case removeCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/queue/remove", map[string]any{"uri": *removeURI})
	case reorderCmd.FullCommand():
		err = c.call(http.MethodPut, "/api/queue", map[string]any{"uris": *reorderURIs})
	case refreshCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/pool/refresh", nil)
	case settingsCmd.FullCommand():
		err = c.call(http.MethodPut, "/api/admin/settings", settingsBody())
	case endCmd.FullCommand():
		err = c.call(http.MethodPost, "/api/admin/party/end", nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// settingsBody builds a partial settings document from the flags that
// were actually given.
func settingsBody() map[string]any {
	body := map[string]any{}
	if *settingsTheme != "" {
		body["theme"] = *settingsTheme
	}
	if *settingsKaraoke != "" {
		body["karaoke_mode"] = *settingsKaraoke == "on"
	}
	if *settingsTokens != "" {
		body["tokens_enabled"] = *settingsTokens == "on"
	}
	if *settingsCap > 0 {
		body["token_cap"] = *settingsCap
	}
	return body
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// call issues one request and pretty-prints the JSON response.
func (c *client) call(method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Admin-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
