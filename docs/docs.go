// Package docs holds the OpenAPI description served by the Swagger UI.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/notifications/call": {
            "post": {
                "description": "Wakes the callee's device (APN VoIP, FCM call message or the web relay).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Notifications"],
                "summary": "Announce an incoming call",
                "operationId": "sendCallNotification",
                "parameters": [
                    {
                        "description": "Call event",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.CallNotificationRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DispatchResponse"}},
                    "400": {"description": "Missing uuid, caller or callee", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Callee not registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Callee has no usable device token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Push vendor rejected or unreachable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/notifications/signal": {
            "post": {
                "description": "Cancels go to the callee; accepts, rejects and updates go back to the caller.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Notifications"],
                "summary": "Forward a call lifecycle change",
                "operationId": "sendCallSignal",
                "parameters": [
                    {
                        "description": "Lifecycle signal",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.CallSignalRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DispatchResponse"}},
                    "400": {"description": "Missing identifiers or more than one flag", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Target not registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Target has no usable device token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Push vendor rejected or unreachable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List registered users",
                "operationId": "listUsers",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Register a user",
                "operationId": "createUser",
                "parameters": [
                    {
                        "description": "User",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.CreateUserRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.User"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Username taken", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{username}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Get a user",
                "operationId": "getUser",
                "parameters": [
                    {"type": "string", "description": "Username", "name": "username", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Replace a user's device",
                "operationId": "updateUser",
                "parameters": [
                    {"type": "string", "description": "Username", "name": "username", "in": "path", "required": true},
                    {
                        "description": "Device",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.UpdateUserRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Delete a user",
                "operationId": "deleteUser",
                "parameters": [
                    {"type": "string", "description": "Username", "name": "username", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/ws": {
            "get": {
                "description": "Upgrades to a WebSocket carrying JSON frames {event, ack, data}.",
                "tags": ["Relay"],
                "summary": "Web client connection",
                "operationId": "serveWS",
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "403": {"description": "Origin not allowed"}
                }
            }
        }
    },
    "definitions": {
        "domain.User": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "platform": {"type": "string", "enum": ["ios", "android", "web"]},
                "fcmDeviceToken": {"type": "string"},
                "iosDeviceToken": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.CallNotificationRequest": {
            "type": "object",
            "properties": {
                "uuid": {"type": "string", "example": "5f0c4c1e-7d55-4b8e-9a56-0f8b2d7c1a11"},
                "caller": {"type": "string", "example": "alice"},
                "callee": {"type": "string", "example": "bob"}
            }
        },
        "handlers.CallSignalRequest": {
            "type": "object",
            "properties": {
                "uuid": {"type": "string", "example": "5f0c4c1e-7d55-4b8e-9a56-0f8b2d7c1a11"},
                "caller": {"type": "string", "example": "alice"},
                "callee": {"type": "string", "example": "bob"},
                "webrtc_ready": {"type": "boolean", "example": false},
                "call_rejected": {"type": "boolean", "example": false},
                "call_cancelled": {"type": "boolean", "example": true}
            }
        },
        "handlers.CreateUserRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string", "example": "bob"},
                "platform": {"type": "string", "example": "android"},
                "fcmDeviceToken": {"type": "string", "example": "fcm-token"},
                "iosDeviceToken": {"type": "string", "example": ""}
            }
        },
        "handlers.UpdateUserRequest": {
            "type": "object",
            "properties": {
                "platform": {"type": "string", "example": "ios"},
                "fcmDeviceToken": {"type": "string", "example": "fcm-token"},
                "iosDeviceToken": {"type": "string", "example": "voip-token"}
            }
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}
            }
        },
        "handlers.DispatchResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "delivered": {"type": "boolean", "example": true},
                "channel": {"type": "string", "example": "fcm-call"},
                "detail": {"type": "string", "example": "calling_web_interface"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "recipient_not_found"},
                "message": {"type": "string"},
                "channel": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Call Relay API",
	Description:      "Relays call ringing and lifecycle signals to iOS, Android and web clients.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
