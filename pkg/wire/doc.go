// Package wire implements the line-oriented request/response protocol spoken
// between syndicate clients and the aggregation server. Every connection
// carries exactly one request and one response.
//
// Request:
//
//	PUT /feed HTTP/1.1
//	UUID: 0b6c3f0e-...
//	Lamport: 12
//	Content-Length: 512
//
//	<feed xmlns="http://www.w3.org/2005/Atom">...
//
// Response:
//
//	HTTP/1.1 201 Created
//	Server: syndicate
//	Lamport: 14
//	Content-Length: 0
//
// Header keys are case-insensitive. Lamport is required on every request.
// A request body is framed by Content-Length when present; otherwise a PUT
// body runs until the first blank line or end of stream. Responses always
// carry Content-Length.
package wire
