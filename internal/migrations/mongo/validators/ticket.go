package validators

import "go.mongodb.org/mongo-driver/bson"

var TicketValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"_id", "event_id", "participant_id", "entry_id", "status", "issued_at"},
		"additionalProperties": true,
		"properties": bson.M{
			"_id":            bson.M{"bsonType": "string"},
			"event_id":       bson.M{"bsonType": "string", "maxLength": 128},
			"participant_id": bson.M{"bsonType": "string", "maxLength": 128},
			"entry_id":       bson.M{"bsonType": "string"},
			"status":         bson.M{"enum": []string{"valid", "used", "refunded", "cancelled"}},
			"issued_at":      bson.M{"bsonType": "date"},
			"updated_at":     bson.M{"bsonType": "date"},
		},
	},
}
