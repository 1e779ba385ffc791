// Command inboxctl is a thin client for the inboxd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

const defaultAddr = "http://127.0.0.1:8642"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: inboxctl <command> [arguments]

commands:
  conversations                 list conversations
  open <jid>                    open a conversation and print its messages
  send <jid> <text...>          send a text message
  read <jid>                    mark a conversation as read
  unread <jid>                  mark a conversation as unread
  autopilot <jid> on|off        toggle automated replies for a conversation
  labels                        list available labels
  label <jid> <labelId...>      replace a conversation's labels
  instances                     list gateway instances
  qr <name> <file.png>          fetch the pairing QR of an instance
  prefer <id> <name>            pin the preferred instance
  export <file.xlsx>            export the inbox as a workbook
  reload                        reload the inbox from the store

The daemon address is taken from INBOXCTL_ADDR (default %s).
`, defaultAddr)
	os.Exit(2)
}

type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	base := os.Getenv("INBOXCTL_ADDR")
	if base == "" {
		base = defaultAddr
	}
	return &client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) call(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *client) download(path, dest string) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type conversation struct {
	RemoteJID   string `json:"remoteJid"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Timestamp   string `json:"timestamp"`
	UnreadCount int    `json:"unreadCount"`
	Status      string `json:"status"`
	AutoReply   bool   `json:"autoReply"`
}

type message struct {
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Own       bool   `json:"own"`
	Status    string `json:"status"`
}

type instanceInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}

type labelTag struct {
	LabelID string `json:"labelId"`
	Name    string `json:"name"`
}

func jidPath(jid string) string {
	return "/api/conversations/" + url.PathEscape(jid)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	c := newClient()
	var err error
	switch args[0] {
	case "conversations":
		err = listConversations(c)
	case "open":
		if len(args) != 2 {
			usage()
		}
		err = openConversation(c, args[1])
	case "send":
		if len(args) < 3 {
			usage()
		}
		err = c.call(http.MethodPost, jidPath(args[1])+"/send/text",
			map[string]string{"text": strings.Join(args[2:], " ")}, nil)
	case "read":
		if len(args) != 2 {
			usage()
		}
		err = c.call(http.MethodPost, jidPath(args[1])+"/read", nil, nil)
	case "unread":
		if len(args) != 2 {
			usage()
		}
		err = c.call(http.MethodPost, jidPath(args[1])+"/unread", nil, nil)
	case "autopilot":
		if len(args) != 3 || (args[2] != "on" && args[2] != "off") {
			usage()
		}
		err = c.call(http.MethodPost, jidPath(args[1])+"/autopilot",
			map[string]bool{"enabled": args[2] == "on"}, nil)
	case "labels":
		err = listLabels(c)
	case "label":
		if len(args) < 2 {
			usage()
		}
		err = c.call(http.MethodPut, jidPath(args[1])+"/labels",
			map[string][]string{"labelIds": args[2:]}, nil)
	case "instances":
		err = listInstances(c)
	case "qr":
		if len(args) != 3 {
			usage()
		}
		err = c.download("/api/instances/"+url.PathEscape(args[1])+"/qr", args[2])
		if err == nil {
			fmt.Printf("saved pairing QR to %s\n", args[2])
		}
	case "prefer":
		if len(args) != 3 {
			usage()
		}
		err = c.call(http.MethodPut, "/api/preferred-instance",
			map[string]string{"id": args[1], "name": args[2]}, nil)
	case "export":
		if len(args) != 2 {
			usage()
		}
		err = c.download("/api/export.xlsx", args[1])
		if err == nil {
			fmt.Printf("exported inbox to %s\n", args[1])
		}
	case "reload":
		err = c.call(http.MethodPost, "/api/reload", nil, nil)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "inboxctl: %v\n", err)
		os.Exit(1)
	}
}

func listConversations(c *client) error {
	var list []conversation
	if err := c.call(http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNUMBER\tUNREAD\tSTATUS\tLAST MESSAGE\tTIME")
	for _, conv := range list {
		number := strings.TrimSuffix(conv.RemoteJID, "@s.whatsapp.net")
		last := conv.LastMessage
		if len(last) > 40 {
			last = last[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			conv.Name, number, conv.UnreadCount, conv.Status, last, conv.Timestamp)
	}
	return w.Flush()
}

func openConversation(c *client, jid string) error {
	var msgs []message
	if err := c.call(http.MethodPost, jidPath(jid)+"/open", nil, &msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		prefix := "<-"
		if m.Own {
			prefix = "->"
		}
		fmt.Printf("%s [%s] %s\n", prefix, m.Timestamp, m.Text)
	}
	return nil
}

func listLabels(c *client) error {
	var labels []labelTag
	if err := c.call(http.MethodGet, "/api/labels", nil, &labels); err != nil {
		return err
	}
	for _, l := range labels {
		fmt.Printf("%s\t%s\n", l.LabelID, l.Name)
	}
	return nil
}

func listInstances(c *client) error {
	var instances []instanceInfo
	if err := c.call(http.MethodGet, "/api/instances", nil, &instances); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\n", inst.ID, inst.Name, inst.ConnectionStatus)
	}
	return w.Flush()
}
