package graphql

const eventFragment = `
fragment EventFields on Event {
  id
  monitoringOrganization
  status
  modified
  activeAnalysts { userName }
  currentEventHypothesis {
    processingStageId
    eventHypothesis {
      id
      eventId
      rejected
      locationSolutionSets {
        id
        count
        locationSolutions {
          id
          locationRestraint {
            depthRestraintType
            depthRestraintKm
            latitudeRestraintType
            longitudeRestraintType
            timeRestraintType
          }
          location { latitudeDegrees longitudeDegrees depthKm time }
          featurePredictions {
            id
            phase
            predictionType
            stationId
            channelId
            extrapolated
            predictedValue
          }
        }
      }
      preferredLocationSolution {
        locationSolution {
          id
          locationRestraint { depthRestraintType depthRestraintKm }
          location { latitudeDegrees longitudeDegrees depthKm time }
        }
      }
      signalDetectionAssociations {
        id
        rejected
        signalDetectionHypothesis { id rejected }
      }
    }
  }
}
`

const signalDetectionFragment = `
fragment SignalDetectionFields on SignalDetection {
  id
  monitoringOrganization
  stationId
  modified
  associationModified
  currentHypothesis {
    id
    rejected
    featureMeasurements {
      id
      featureMeasurementType
      measurementValue
    }
  }
}
`

const eventsInTimeRangeQuery = `
query eventsInTimeRange($timeRange: TimeRange!) {
  eventsInTimeRange(timeRange: $timeRange) {
    ...EventFields
  }
}
` + eventFragment

const signalDetectionsByStationQuery = `
query signalDetectionsByStation($stationIds: [String]!, $timeRange: TimeRange!) {
  signalDetectionsByStation(stationIds: $stationIds, timeRange: $timeRange) {
    ...SignalDetectionFields
  }
}
` + signalDetectionFragment

const transferredFilesByTimeRangeQuery = `
query transferredFilesByTimeRange($timeRange: TimeRange!) {
  transferredFilesByTimeRange(timeRange: $timeRange) {
    fileName
    priority
    transferTime
    transferStatus
    metadata { channelNames startTime endTime }
  }
}
`

const updateEventsMutation = `
mutation updateEvents($eventIds: [String]!, $input: UpdateEventInput!) {
  updateEvents(eventIds: $eventIds, input: $input) {
    ...EventFields
  }
}
` + eventFragment

const saveReferenceStationMutation = `
mutation saveReferenceStation($input: ReferenceStationInput!) {
  saveReferenceStation(input: $input) {
    result
  }
}
`

const computeFksMutation = `
mutation computeFks($fkInput: [FkInput]!) {
  computeFks(fkInput: $fkInput) {
    ...SignalDetectionFields
  }
}
` + signalDetectionFragment

const markActivityIntervalMutation = `
mutation markActivityInterval($activityIntervalId: String!, $input: IntervalStatusInput!) {
  markActivityInterval(activityIntervalId: $activityIntervalId, input: $input) {
    id
    status
    activeAnalysts { userName }
    completedBy { userName }
  }
}
`

// EventsCreatedSubscription is the eventsCreated subscription document.
const EventsCreatedSubscription = `
subscription eventsCreated {
  eventsCreated {
    ...EventFields
  }
}
` + eventFragment

// DetectionsCreatedSubscription is the detectionsCreated subscription document.
const DetectionsCreatedSubscription = `
subscription detectionsCreated {
  detectionsCreated {
    ...SignalDetectionFields
  }
}
` + signalDetectionFragment

// WaveformChannelSegmentsAddedSubscription is the waveformChannelSegmentsAdded subscription document.
const WaveformChannelSegmentsAddedSubscription = `
subscription waveformChannelSegmentsAdded {
  waveformChannelSegmentsAdded {
    channelId
    startTime
    endTime
  }
}
`

// QcMasksCreatedSubscription is the qcMasksCreated subscription document.
const QcMasksCreatedSubscription = `
subscription qcMasksCreated {
  qcMasksCreated {
    id
    channelId
    currentVersion {
      version
      category
      type
      rationale
      startTime
      endTime
      channelSegmentIds
    }
  }
}
`
