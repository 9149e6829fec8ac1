// Package grpc exposes the standard gRPC health service for the midas
// processes. Serving status follows the same dependency probes as the
// HTTP /healthz endpoint.
//
// # Usage
//
//	grpcServer := grpc.NewServer()
//	health := midasgrpc.NewHealth(systemHandler, 10*time.Second, logger)
//	health.Register(grpcServer)
//	go health.Run(ctx)
//	lis, _ := net.Listen("tcp", ":9090")
//	grpcServer.Serve(lis)
package grpc
