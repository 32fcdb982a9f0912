package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// No background polling runs here: job feeds are swept on read and idle
// sessions are reaped between invocations.

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"qc-dashboard/internal/bootstrap"
	"qc-dashboard/internal/shared/config"
	"qc-dashboard/internal/shared/telemetry"
)

const reapInterval = time.Minute

var (
	initOnce  sync.Once
	initErr   error
	app       *bootstrap.App
	ginLambda *ginadapter.GinLambdaV2

	reapMu   sync.Mutex
	lastReap time.Time
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return errorResponse("bootstrap failed"), initErr
	}
	if ginLambda == nil {
		return errorResponse("router not initialized"), nil
	}
	resp, err := ginLambda.ProxyWithContext(ctx, req)
	reapIfDue(ctx)
	return resp, err
}

// reapIfDue releases idle sessions at most once per reapInterval.
func reapIfDue(ctx context.Context) {
	reapMu.Lock()
	due := time.Since(lastReap) >= reapInterval
	if due {
		lastReap = time.Now()
	}
	reapMu.Unlock()
	if !due {
		return
	}
	if _, err := app.Sessions.Reap(ctx); err != nil {
		telemetry.Warn("sessions.reap_failed", map[string]any{"error": err.Error()})
	}
}

func errorResponse(msg string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]map[string]string{"error": {"code": "internal", "message": msg}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 500,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(handler)
}
