package envelope

// DefaultSchemaJSON is the canonical result envelope JSON Schema. Every
// envelope emitted or accepted at a core boundary (capsule output, router
// dispatch result, API bulk/single reads) validates against this schema.
const DefaultSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "ResultEnvelope",
  "type": "object",
  "required": ["result"],
  "additionalProperties": false,
  "properties": {
    "result": {
      "type": "object",
      "required": ["success"],
      "oneOf": [
        {
          "properties": {
            "success": {"const": true},
            "data": {}
          },
          "required": ["success"]
        },
        {
          "properties": {
            "success": {"const": false},
            "error": {
              "type": "object",
              "required": ["message"],
              "properties": {
                "message": {"type": "string", "minLength": 1},
                "code": {"type": "string"},
                "details": {}
              }
            }
          },
          "required": ["success", "error"]
        }
      ]
    },
    "diagnostics": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["level", "message"],
        "properties": {
          "level": {"enum": ["debug", "info", "warning", "error", "fatal"]},
          "message": {"type": "string"},
          "timestamp": {"type": "string", "format": "date-time"},
          "source": {"type": "string"},
          "context": {}
        }
      }
    },
    "suggestions": {
      "type": "array",
      "items": {"$ref": "#/$defs/suggestion"}
    },
    "metrics": {
      "type": "object",
      "properties": {
        "duration": {
          "type": "object",
          "properties": {
            "total_ms": {"type": "number"},
            "phases": {"type": "object", "additionalProperties": {"type": "number"}}
          }
        },
        "resources": {
          "type": "object",
          "properties": {
            "memory_bytes": {"type": "integer"},
            "cpu_percent": {"type": "number"},
            "io_operations": {"type": "integer"}
          }
        },
        "counters": {"type": "object", "additionalProperties": {"type": "integer"}},
        "runtime": {},
        "counts": {"type": "object", "additionalProperties": {"type": "integer"}},
        "custom": {}
      }
    },
    "provenance": {
      "type": "object",
      "properties": {
        "source": {
          "type": "object",
          "required": ["system"],
          "properties": {
            "system": {"type": "string"},
            "version": {"type": "string"},
            "instance": {"type": "string"}
          }
        },
        "timestamp": {"type": "string", "format": "date-time"},
        "trace_id": {"type": "string"},
        "span_id": {"type": "string"},
        "parent_span_id": {"type": "string"},
        "chain": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["step", "timestamp"],
            "properties": {
              "step": {"type": "string"},
              "timestamp": {"type": "string", "format": "date-time"},
              "actor": {"type": "string"},
              "signature": {"type": "string"}
            }
          }
        }
      }
    }
  },
  "$defs": {
    "suggestion": {
      "type": "object",
      "required": ["type", "description"],
      "properties": {
        "type": {"enum": ["action", "modification", "configuration", "optimization"]},
        "description": {"type": "string"},
        "patch": {
          "type": "array",
          "items": {"$ref": "#/$defs/jsonPatchOp"}
        },
        "priority": {"enum": ["low", "medium", "high", "critical"]},
        "rationale": {"type": "string"}
      }
    },
    "jsonPatchOp": {
      "type": "object",
      "required": ["op", "path"],
      "properties": {
        "op": {"enum": ["add", "remove", "replace", "move", "copy", "test"]},
        "path": {"type": "string"},
        "value": {},
        "from": {"type": "string"}
      },
      "allOf": [
        {
          "if": {"properties": {"op": {"const": "move"}}},
          "then": {"required": ["op", "path", "from"]}
        },
        {
          "if": {"properties": {"op": {"const": "copy"}}},
          "then": {"required": ["op", "path", "from"]}
        },
        {
          "if": {"properties": {"op": {"const": "add"}}},
          "then": {"required": ["op", "path", "value"]}
        },
        {
          "if": {"properties": {"op": {"const": "replace"}}},
          "then": {"required": ["op", "path", "value"]}
        },
        {
          "if": {"properties": {"op": {"const": "test"}}},
          "then": {"required": ["op", "path", "value"]}
        }
      ]
    },
    "uiCard": {
      "type": "object",
      "required": ["kind"],
      "discriminator": {"propertyName": "kind"},
      "oneOf": [
        {
          "properties": {
            "kind": {"const": "fields-table"},
            "config": {"type": "object"}
          },
          "required": ["kind", "config"]
        },
        {
          "properties": {
            "kind": {"const": "markdown-view"},
            "config": {"type": "object"}
          },
          "required": ["kind", "config"]
        }
      ]
    }
  }
}`
