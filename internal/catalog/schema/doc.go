// Package schema defines the catalog item documents mirrored to disk.
//
// # Overview
//
// Every catalog item is stored as an individual JSON file under items/ with
// the filename convention {id}.json. The file holds the document exactly as
// the remote catalog returned it; the typed Item view only decodes the fields
// the mirror compares and indexes.
//
// Example: items/4fe75bbc5a674f4f9b356b5c90567da5.json
//
//	{
//	  "id": "4fe75bbc5a674f4f9b356b5c90567da5",
//	  "namespace": "fn",
//	  "title": "Fortnite",
//	  "status": "ACTIVE",
//	  "creationDate": "2018-06-07T18:24:11.993Z",
//	  "lastModifiedDate": "2024-05-02T09:13:40.201Z",
//	  "customAttributes": {
//	    "FolderName": {"type": "STRING", "value": "Fortnite"}
//	  },
//	  "keyImages": [{"type": "DieselGameBox", "url": "https://..."}],
//	  "categories": [{"path": "games"}, {"path": "applications"}],
//	  "releaseInfo": [{"appId": "Fortnite", "platform": ["Windows", "Mac"]}],
//	  "eulaIds": ["egstore"]
//	}
//
// # Custom Attributes
//
// Items carry an open-ended bag of custom attributes. Only the closed set
// returned by KnownAttributes takes part in change detection; every other
// key is preserved on disk but never compared.
//
// # Usage Examples
//
// Decoding a fetched document:
//
//	item, err := schema.DecodeItem(body)
//
// Reading and writing item files:
//
//	item, err := schema.ReadItemFile("database/items/abc.json")
//	err = schema.WriteItemFile("database/items", item)
//
// # Design Principles
//
//   - One file per item (last write wins, overwrite by id)
//   - Raw document preserved byte-for-byte apart from indentation
//   - Missing collections decode as empty, missing scalars as zero values
package schema
