package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
)

// SetupHealthCheck serves `GET /healthcheck`. If ping is non-nil, it is invoked on every request,
// and a failing ping turns the response into a 503.
func SetupHealthCheck(mux *http.ServeMux, ping func(context.Context) error) {
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, req *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				slog.Error("/healthcheck: failed", tint.Err(err), "from", ReadUserIP(req))
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		slog.Debug("/healthcheck: ok", "from", ReadUserIP(req))
		w.Write([]byte("ok"))
	})
}

func VerifyHealthCheck(host string, port int) int {
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/healthcheck"
	client := http.Client{
		Timeout: 5 * time.Second,
	}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("failed: %s\n", resp.Status)
		return 1
	}

	fmt.Println("ok")
	return 0
}
