package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dkeye/huddle/internal/domain"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active conferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms, err := fetchRooms(flagServer)
		if err != nil {
			return err
		}
		fmt.Print(renderRooms(rooms))
		return nil
	},
}

func fetchRooms(base string) ([]domain.RoomInfo, error) {
	c := &http.Client{Timeout: 10 * time.Second}
	res, err := c.Get(strings.TrimSuffix(base, "/") + "/api/rooms")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: %s", res.Status)
	}
	var body struct {
		Rooms []domain.RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func renderRooms(rooms []domain.RoomInfo) string {
	if len(rooms) == 0 {
		return "No active conferences\n"
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Conference", "Peers"})
	total := 0
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ConferenceID, r.PeerCount})
		total += r.PeerCount
	}
	t.AppendFooter(table.Row{"Total", total})
	return t.Render() + "\n"
}
