// Package natssource implements realtime.Source over NATS core pub/sub.
//
// Change events are JSON encoded realtime.ChangeEvent values published on
//
//	{prefix}.{schema}.{table}.{insert|update|delete}
//
// with prefix "changes" by default. Each channel subscribes to the table
// wildcard and applies the row filter of its TableSpec locally, against
// the new row image or the old one for deletes.
package natssource
