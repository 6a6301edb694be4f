/*
Package api implements the Glacier HTTP/JSON API server.

The api package is the only external surface of the farm. Every operation is
a single request/response pair authenticated per call: /login and the
/session endpoints take username and password, everything under /task takes
the session id minted by /login. There is no cookie, header, or bearer-token
scheme; parameters travel in the query string, except the scene upload which
is a multipart POST.

# Endpoints

	GET  /login           username, password      -> {"session_id": ...}
	GET  /session/list    username, password      -> {"sessions": [...]}
	GET  /session/remove  username, password, session_id
	POST /task/request    session_id, task_name, start_frame, end_frame, file
	GET  /task/stat       session_id, task_id     -> task view
	GET  /task/list       session_id              -> [task view]
	GET  /task/kill       session_id, task_id
	GET  /task/delete     session_id, task_id
	GET  /task/result     session_id, task_id     -> tar.gz bytes
	GET  /health
	GET  /metrics

Task endpoints verify ownership: a valid session only operates on tasks whose
parent_session_id matches. Error responses are plain-text bodies with the
appropriate status code; success responses are JSON, except /task/result
which streams the packaged artifact and retires the task to DONE.
*/
package api
