package sync

// definitionsSchema validates the on-disk definitions document before it
// touches the store; the store layer re-validates semantics (control counts,
// allocation sums) on top of this structural check.
const definitionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["platform", "environment"],
  "properties": {
    "platform": { "type": "string", "minLength": 1 },
    "environment": { "type": "string", "minLength": 1 },
    "flags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["flagKey", "flagType", "valueA", "valueB", "defaultValue"],
        "properties": {
          "flagKey": { "type": "string", "minLength": 1 },
          "enabled": { "type": "boolean" },
          "flagType": { "enum": ["boolean", "string", "number", "json"] },
          "defaultValue": { "enum": ["A", "B"] },
          "rolloutEnabled": { "type": "boolean" },
          "rolloutPercentageA": { "type": "number", "minimum": 0, "maximum": 100 },
          "rolloutPercentageB": { "type": "number", "minimum": 0, "maximum": 100 },
          "rules": { "type": "object" },
          "targeting": {
            "type": "object",
            "properties": {
              "countries": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["country", "serveValue"],
                  "properties": {
                    "country": { "type": "string", "minLength": 2, "maxLength": 2 },
                    "serveValue": { "enum": ["A", "B"] },
                    "languages": {
                      "type": "array",
                      "items": {
                        "type": "object",
                        "required": ["language", "serveValue"],
                        "properties": {
                          "language": { "type": "string", "minLength": 2, "maxLength": 3 },
                          "serveValue": { "enum": ["A", "B"] }
                        }
                      }
                    }
                  }
                }
              },
              "forceIncludeUsers": { "type": "array", "items": { "type": "string" } },
              "forceExcludeUsers": { "type": "array", "items": { "type": "string" } }
            }
          }
        }
      }
    },
    "experiments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["experimentKey", "variations", "trafficAllocation"],
        "properties": {
          "experimentKey": { "type": "string", "minLength": 1 },
          "status": { "enum": ["draft", "running", "paused", "completed", "archived"] },
          "controlVariation": { "type": "string" },
          "variations": {
            "type": "array",
            "minItems": 2,
            "items": {
              "type": "object",
              "required": ["key", "value"],
              "properties": {
                "key": { "type": "string", "minLength": 1 },
                "name": { "type": "string" },
                "isControl": { "type": "boolean" }
              }
            }
          },
          "trafficAllocation": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["variationKey", "percentage"],
              "properties": {
                "variationKey": { "type": "string", "minLength": 1 },
                "percentage": { "type": "number", "minimum": 0, "maximum": 100 }
              }
            }
          },
          "confidenceLevel": { "type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1 }
        }
      }
    },
    "config": { "type": "object" }
  }
}`
