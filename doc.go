/*
Package avrorouter converts MySQL and MariaDB binlog files into Avro
object container files, one file per table and schema version.

A pipeline reads the binlog files of one server from a directory and
writes into an avro directory:

	db.t1.000001.avsc          schema of version 1 of db.t1
	db.t1.000001.avro          row changes of db.t1 while at version 1
	avro-catalog.json          known table definitions
	avro-conversion.ini        binlog file, position and gtid converted so far
	avro.index                 optional gtid index, see package index

Every record carries the GTID of its transaction, the event timestamp,
the kind of change (insert, update_before, update_after or delete) and
one nullable field per table column.

Pipelines are grouped in a Registry:

	reg := avrorouter.NewRegistry()
	defer reg.Close()
	_, err := reg.Add(avrorouter.Config{
		Name: "main",
		Config: binlog.Config{
			BinlogDir:      "/var/lib/mysql",
			BinlogBasename: "mysql-bin",
			AvroDir:        "/var/lib/avrorouter/main",
		},
	})
	if err != nil {
		return err
	}
	return reg.Run(ctx)

Run converts until ctx is cancelled. Each pipeline re-reads its binlog
files with a delay that grows from one to fifteen seconds while the
server writes nothing new.

Container files are read with package avro:

	r, err := avro.Open("db.t1.000001.avro")
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Println(rec)
	}
*/
package avrorouter
