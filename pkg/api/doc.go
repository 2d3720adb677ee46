/*
Package api serves the scheduler's operator API.

# HTTP

Routes are registered on a chi router:

	GET  /v1/plan                   plan, phase and block status
	POST /v1/plan/interrupt         stop releasing new blocks
	POST /v1/plan/continue          resume releasing blocks
	GET  /v1/tasks                  every node's task record
	GET  /v1/tasks/{node}           one node's task record
	POST /v1/tasks/{node}/replace   allow a node to move off its volume's agent
	GET  /v1/framework              framework id and registration state
	GET  /health                    component health
	GET  /ready                     readiness (storage, scheduler, api)
	GET  /livez                     liveness
	GET  /metrics                   Prometheus metrics

Interrupting the plan only stops new blocks from being released. Blocks
already in progress keep running and still complete on their own.

# gRPC

GRPCServer exposes the standard grpc.health.v1 service. The empty service
name is always SERVING; the scheduler service reports NOT_SERVING until the
framework is registered with the resource manager.
*/
package api
