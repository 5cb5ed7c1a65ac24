package repository

const schema = `
CREATE TABLE IF NOT EXISTS competitions (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    activity       TEXT NOT NULL CHECK(activity IN ('running','walking','cycling','other')),
    scoring_method TEXT NOT NULL CHECK(scoring_method IN ('total_distance','total_duration','workout_count')),
    start_ts       INTEGER NOT NULL,
    end_ts         INTEGER NOT NULL,
    created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS competition_participants (
    competition_id TEXT NOT NULL REFERENCES competitions(id),
    pubkey         TEXT NOT NULL,
    joined_at      INTEGER NOT NULL,
    PRIMARY KEY (competition_id, pubkey)
);

CREATE TABLE IF NOT EXISTS workout_submissions (
    event_id       TEXT PRIMARY KEY,
    pubkey         TEXT NOT NULL,
    activity       TEXT NOT NULL CHECK(activity IN ('running','walking','cycling','other')),
    distance_m     REAL,
    duration_s     INTEGER,
    calories       INTEGER,
    created_at     INTEGER NOT NULL,
    provenance     TEXT NOT NULL CHECK(provenance IN ('app','nostr_scan','baseline_migration')),
    baseline_count INTEGER,
    flagged        INTEGER NOT NULL DEFAULT 0 CHECK(flagged IN (0, 1)),
    flag_reason    TEXT
);

CREATE INDEX IF NOT EXISTS idx_submissions_pubkey_time ON workout_submissions(pubkey, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_activity_time ON workout_submissions(activity, created_at);

CREATE TABLE IF NOT EXISTS flagged_workouts (
    event_id   TEXT PRIMARY KEY REFERENCES workout_submissions(event_id),
    pubkey     TEXT NOT NULL,
    reason     TEXT NOT NULL,
    raw_event  TEXT NOT NULL DEFAULT '',
    flagged_at INTEGER NOT NULL
);
`
