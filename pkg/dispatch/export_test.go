package dispatch

const ExpandBatchSize = expandBatchSize
