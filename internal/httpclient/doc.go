// Package httpclient builds and sends the HTTP requests issued by the http_request
// workload.
//
// A [RequestBuilder] validates method, URL, headers and body once at script load
// time; [RequestBuilder.Build] then produces a fresh request per call, replayable
// through GetBody:
//
//	builder, err := httpclient.NewRequestBuilder(httpclient.RequestSpec{
//		Method: "POST",
//		URL:    "http://localhost:8080/orders",
//		Body:   `{"sku":"A1"}`,
//	})
//	req, err := builder.Build(ctx)
//	resp, err := httpclient.Send(client, req, httpclient.DefaultMaxBody)
//
// [HeaderInjector] values decorate each built request; the script loader uses one
// to propagate trace context.
//
// [NewClient] returns a client tuned for load generation with generous
// connection reuse. One client is shared by all calls of an executor through the
// http_client fixture.
package httpclient
