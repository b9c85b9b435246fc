// Command reqdump prints every request it receives exactly as the cgiserve
// parser sees it and answers with the same text.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cgiserve/internal/dispatch"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

var (
	port        uint16
	readTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "reqdump",
	Short:         "Dump parsed HTTP requests to stdout.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().Uint16VarP(&port, "port", "p", 42069, "TCP port to listen on")
	rootCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "time allowed to receive a request")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reqdump:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	defer listener.Close()
	fmt.Printf("Listening on port %d...\n", port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Println("Accept error:", err)
			continue
		}

		go handleConnection(conn)
	}
}

func handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	w := response.NewWriter(conn)
	req, err := request.RequestFromReader(conn, request.DefaultLimits())
	if err != nil {
		fmt.Println("parse error:", err)
		w.WriteResponse(dispatch.ErrorResponse(err))
		return
	}

	dump := describe(req)
	fmt.Print(dump)
	w.WriteResponse(response.Text(response.StatusOK, dump))
}

func describe(req *request.Request) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Request Line")
	fmt.Fprintf(&b, "Method: %s\n", req.Method)
	fmt.Fprintf(&b, "Target: %s\n", req.Target)
	fmt.Fprintf(&b, "Path: %s\n", req.Path)
	fmt.Fprintf(&b, "Version: %s\n", req.Version)

	if len(req.Query) > 0 {
		fmt.Fprintln(&b, "Query")
		for _, q := range req.Query {
			fmt.Fprintf(&b, "%s = %s\n", q.Key, q.Value)
		}
	}

	fmt.Fprintln(&b, "Headers")
	for _, f := range req.Headers.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}

	fmt.Fprintln(&b, "Body")
	fmt.Fprintf(&b, "%s\n", req.Body)
	return b.String()
}
