package health

import (
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/rkflash/internal/progress"
)

// ServiceName is the health service name of the station.
const ServiceName = "rkflash"

// Reporter maps orchestrator states to health statuses.
type Reporter struct {
	// server is the standard health implementation serving the statuses.
	server *grpchealth.Server
}

// NewReporter creates a reporter that starts out SERVING.
func NewReporter() *Reporter {
	server := grpchealth.NewServer()
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Reporter{server: server}
}

// Register installs the health service on s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Publish implements progress.Sink.
func (r *Reporter) Publish(update progress.Update) {
	status := healthpb.HealthCheckResponse_SERVING
	if update.State.Running() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	r.server.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING for every service and ignores later updates.
func (r *Reporter) Shutdown() {
	r.server.Shutdown()
}
