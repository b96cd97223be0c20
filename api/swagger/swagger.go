package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LinguaOps API",
        "description": "Student financial ledger and retention engine",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Students", "description": "Enrollment and roster management"},
        {"name": "Ledger", "description": "Payments, refunds and balance derivation"},
        {"name": "Attendance", "description": "Class attendance and churn risk"},
        {"name": "Outreach", "description": "Retention call scheduling"},
        {"name": "Connections", "description": "Peer connection matching"},
        {"name": "Dashboard", "description": "Retention overview"}
    ],
    "paths": {
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "level", "in": "query", "type": "string"},
                    {"name": "batch", "in": "query", "type": "string"},
                    {"name": "churnRisk", "in": "query", "type": "string"},
                    {"name": "paymentStatus", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Enroll a student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update student profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Delete student (refused when payment history exists)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/students/{id}/deactivate": {
            "post": {
                "tags": ["Students"],
                "summary": "Deactivate student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/ledger": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Full ledger for a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/recompute": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Recompute a student's ledger totals",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Record a payment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordPaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{id}": {
            "put": {
                "tags": ["Ledger"],
                "summary": "Update a payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Ledger"],
                "summary": "Delete a payment and recompute totals",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/refunds": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Apply a refund",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyRefundRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance records",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Attendance"],
                "summary": "Mark attendance for one student and date",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/bulk": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Mark attendance for a class session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkMarkAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/{id}": {
            "delete": {
                "tags": ["Attendance"],
                "summary": "Delete an attendance record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/call-list": {
            "get": {
                "tags": ["Outreach"],
                "summary": "Today's prioritised call list",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/generate": {
            "post": {
                "tags": ["Outreach"],
                "summary": "Generate pending calls for all candidates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/calls": {
            "get": {
                "tags": ["Outreach"],
                "summary": "List outreach calls",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "priority", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/calls/{id}/snooze": {
            "post": {
                "tags": ["Outreach"],
                "summary": "Snooze a pending call",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SnoozeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/calls/{id}/resume": {
            "post": {
                "tags": ["Outreach"],
                "summary": "Resume a snoozed call",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/outreach/calls/{id}/complete": {
            "post": {
                "tags": ["Outreach"],
                "summary": "Complete a call, optionally scheduling a follow-up",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CompleteCallRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/connections": {
            "get": {
                "tags": ["Connections"],
                "summary": "List a student's connections",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Connections"],
                "summary": "Introduce two students",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateConnectionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/connections/suggestions": {
            "get": {
                "tags": ["Connections"],
                "summary": "Suggest peer connections for a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/dashboard/retention": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Retention and ledger overview",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "EnrollStudentRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "level": {"type": "string", "enum": ["A1", "A2", "B1", "B2", "C1", "C2"]},
                "batch": {"type": "string"},
                "batch_timing": {"type": "string"},
                "referral_source": {"type": "string"},
                "enrollment_date": {"type": "string"},
                "currency": {"type": "string", "enum": ["EUR", "INR"]},
                "original_price": {"type": "string"},
                "discount_applied": {"type": "string"},
                "initial_payment": {"$ref": "#/definitions/InitialPaymentRequest"}
            },
            "required": ["full_name", "email", "level", "batch", "currency"]
        },
        "InitialPaymentRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "string"},
                "method": {"type": "string"}
            },
            "required": ["method"]
        },
        "UpdateStudentRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "level": {"type": "string"},
                "batch": {"type": "string"},
                "batch_timing": {"type": "string"},
                "referral_source": {"type": "string"},
                "active": {"type": "boolean"}
            }
        },
        "RecordPaymentRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "amount": {"type": "string"},
                "status": {"type": "string", "enum": ["PENDING", "COMPLETED", "FAILED", "REFUNDED"]},
                "method": {"type": "string"},
                "payment_date": {"type": "string"}
            },
            "required": ["student_id", "amount", "method"]
        },
        "UpdatePaymentRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "string"},
                "status": {"type": "string"},
                "method": {"type": "string"},
                "payment_date": {"type": "string"}
            }
        },
        "ApplyRefundRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "payment_id": {"type": "string"},
                "refund_amount": {"type": "string"},
                "refund_method": {"type": "string"},
                "refund_reason": {"type": "string"}
            },
            "required": ["student_id", "refund_amount", "refund_method", "refund_reason"]
        },
        "MarkAttendanceRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "date": {"type": "string"},
                "status": {"type": "string", "enum": ["PRESENT", "ABSENT", "LATE", "EXCUSED"]},
                "notes": {"type": "string"}
            },
            "required": ["student_id", "date", "status"]
        },
        "BulkMarkAttendanceRequest": {
            "type": "object",
            "properties": {
                "records": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/MarkAttendanceRequest"}
                }
            },
            "required": ["records"]
        },
        "SnoozeRequest": {
            "type": "object",
            "properties": {
                "until": {"type": "string"}
            },
            "required": ["until"]
        },
        "CompleteCallRequest": {
            "type": "object",
            "properties": {
                "duration_minutes": {"type": "integer"},
                "notes": {"type": "string"},
                "sentiment": {"type": "string"},
                "next_call_date": {"type": "string"},
                "schedule_next": {"type": "boolean"}
            },
            "required": ["sentiment"]
        },
        "CreateConnectionRequest": {
            "type": "object",
            "properties": {
                "connected_student_id": {"type": "string"},
                "reason": {"type": "string"}
            },
            "required": ["connected_student_id"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
