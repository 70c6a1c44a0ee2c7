// Package api serves FlowAudit over JSON/HTTP.
//
// Routes use Go 1.22 ServeMux patterns:
//
//	GET    /health
//	GET    /rulesets
//	GET    /rulesets/summaries
//	GET    /rulesets/{id}
//	POST   /rulesets
//	PUT    /rulesets/{id}/{version}
//	POST   /rulesets/{id}/evaluate
//	POST   /projects
//	GET    /projects
//	GET    /projects/{id}
//	POST   /projects/{id}/documents
//	GET    /projects/{id}/documents
//	POST   /projects/{id}/documents/{docId}/evaluate
//	GET    /projects/{id}/solution-files
//	POST   /projects/{id}/solution-files
//	DELETE /projects/{id}/solution-files/{fileId}
//	POST   /projects/{id}/solution-files/{fileId}/preview
//	POST   /projects/{id}/solution-files/{fileId}/apply
//
// Errors are returned as {"error": {"kind", "code", "message"}} with the
// status derived from the apperr kind: NOT_FOUND 404, VALIDATION 400,
// CONFLICT 409, NETWORK 502, anything else 500.
package api
